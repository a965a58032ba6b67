// Package roles maps a method's declared role to its required active layer
// set. Resolution is a deterministic table lookup with one override: methods
// whose identifier matches the dimension-question executor pattern are always
// scored on all eight layers, whatever their declared role says, because such
// methods are final scoring executors and must never be under-evaluated.
package roles

import (
	"fmt"
	"regexp"
	"sync"

	"calfuse/internal/logging"
	"calfuse/internal/taxonomy"
)

// UnknownRoleError reports a declared role outside the known table. It is
// informative, not fatal: the resolver degrades to the conservative maximal
// layer set and logs a warning, since under-evaluating is worse than
// over-evaluating.
type UnknownRoleError struct {
	MethodID string
	Role     taxonomy.MethodRole
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %q for method %q: falling back to all layers", e.Role, e.MethodID)
}

// executorPattern matches dimension-question executor identifiers: a
// dimension token in 1..6, a question token in 1..5, and an Executor suffix,
// e.g. "D3_Q2_CausalChain_Executor".
var executorPattern = regexp.MustCompile(`(?i)^d[1-6][_-]?q[1-5].*executor$`)

// Resolver resolves and caches active layer sets. A resolution is computed
// once per method id and never re-derived for the lifetime of the process.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]taxonomy.LayerSet
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]taxonomy.LayerSet)}
}

// Resolve returns the active layer set for a method. The returned set is a
// copy; mutating it does not affect the cache.
func (r *Resolver) Resolve(methodID string, role taxonomy.MethodRole) taxonomy.LayerSet {
	r.mu.RLock()
	if cached, ok := r.cache[methodID]; ok {
		r.mu.RUnlock()
		return cached.Clone()
	}
	r.mu.RUnlock()

	resolved := resolve(methodID, role)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[methodID]; ok {
		return cached.Clone()
	}
	r.cache[methodID] = resolved
	return resolved.Clone()
}

// IsDimensionQuestionExecutor reports whether a method id matches the
// executor override pattern.
func IsDimensionQuestionExecutor(methodID string) bool {
	return executorPattern.MatchString(methodID)
}

func resolve(methodID string, role taxonomy.MethodRole) taxonomy.LayerSet {
	if IsDimensionQuestionExecutor(methodID) {
		return taxonomy.AllLayerSet()
	}

	switch role {
	case taxonomy.RoleAnalyzer, taxonomy.RoleExecutor, taxonomy.RoleUnknown:
		return taxonomy.AllLayerSet()
	case taxonomy.RoleProcessor, taxonomy.RoleIngestion:
		return taxonomy.NewLayerSet(
			taxonomy.LayerBase, taxonomy.LayerUnit,
			taxonomy.LayerChain, taxonomy.LayerMeta,
		)
	case taxonomy.RoleUtility, taxonomy.RoleOrchestrator:
		return taxonomy.NewLayerSet(
			taxonomy.LayerBase, taxonomy.LayerChain, taxonomy.LayerMeta,
		)
	default:
		err := &UnknownRoleError{MethodID: methodID, Role: role}
		logging.Get(logging.CategoryRoles).Warnf("%v", err)
		return taxonomy.AllLayerSet()
	}
}
