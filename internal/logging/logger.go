// Package logging provides categorized logging for the calibration engine.
// Each subsystem logs through a named zap logger so log output can be
// filtered per category. Until Initialize is called the package is a
// silent no-op, which keeps library use (and tests) quiet by default.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"
	CategoryRoles       Category = "roles"
	CategoryRegistry    Category = "registry"
	CategoryScoring     Category = "scoring"
	CategoryFusion      Category = "fusion"
	CategoryCertificate Category = "certificate"
	CategoryPolicy      Category = "policy"
	CategoryStore       Category = "store"
	CategoryEngine      Category = "engine"
	CategoryCLI         Category = "cli"
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize installs the root logger all categories derive from.
// Call once at startup; calling again replaces the root and invalidates
// cached category loggers.
func Initialize(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes the root logger. Safe to call on the no-op logger.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
