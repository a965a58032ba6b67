package taxonomy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// LINEAR WEIGHTS
// =============================================================================

// LinearWeights maps each layer to a non-negative linear weight.
type LinearWeights map[Layer]float64

// Sum returns the total linear weight mass.
func (w LinearWeights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Clone returns an independent copy.
func (w LinearWeights) Clone() LinearWeights {
	out := make(LinearWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// =============================================================================
// LAYER PAIRS AND INTERACTION WEIGHTS
// =============================================================================

// layerRank gives each canonical layer its AllLayers position, used to
// normalize unordered pairs.
var layerRank = func() map[Layer]int {
	m := make(map[Layer]int, len(AllLayers))
	for i, l := range AllLayers {
		m[l] = i
	}
	return m
}()

// LayerPair is an unordered pair of distinct layers, stored in canonical
// order so that (UNIT, CHAIN) and (CHAIN, UNIT) compare equal.
type LayerPair struct {
	First  Layer
	Second Layer
}

// NewLayerPair builds a canonical pair. Pairing a layer with itself or with
// an unknown layer is rejected.
func NewLayerPair(a, b Layer) (LayerPair, error) {
	if a == b {
		return LayerPair{}, fmt.Errorf("interaction pair needs two distinct layers, got %s twice", a)
	}
	ra, ok := layerRank[a]
	if !ok {
		return LayerPair{}, fmt.Errorf("unknown layer in pair: %q", a)
	}
	rb, ok := layerRank[b]
	if !ok {
		return LayerPair{}, fmt.Errorf("unknown layer in pair: %q", b)
	}
	if ra > rb {
		a, b = b, a
	}
	return LayerPair{First: a, Second: b}, nil
}

// MustLayerPair is NewLayerPair for static pairs known to be valid.
func MustLayerPair(a, b Layer) LayerPair {
	p, err := NewLayerPair(a, b)
	if err != nil {
		panic(err)
	}
	return p
}

// Contains reports whether l is one of the pair's members.
func (p LayerPair) Contains(l Layer) bool {
	return p.First == l || p.Second == l
}

// String renders the pair as "FIRST+SECOND".
func (p LayerPair) String() string {
	return string(p.First) + "+" + string(p.Second)
}

// ParseLayerPair parses "A+B" into a canonical pair.
func ParseLayerPair(s string) (LayerPair, error) {
	parts := strings.Split(s, "+")
	if len(parts) != 2 {
		return LayerPair{}, fmt.Errorf("malformed layer pair %q: want \"A+B\"", s)
	}
	a, err := ParseLayer(strings.TrimSpace(parts[0]))
	if err != nil {
		return LayerPair{}, err
	}
	b, err := ParseLayer(strings.TrimSpace(parts[1]))
	if err != nil {
		return LayerPair{}, err
	}
	return NewLayerPair(a, b)
}

// InteractionWeights maps unordered layer pairs to non-negative synergy
// weights. A pair's weight applies only when both layers are active.
type InteractionWeights map[LayerPair]float64

// Sum returns the total interaction weight mass.
func (w InteractionWeights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Clone returns an independent copy.
func (w InteractionWeights) Clone() InteractionWeights {
	out := make(InteractionWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// MarshalJSON serializes pairs as "A+B" object keys.
func (w InteractionWeights) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, len(w))
	for p, v := range w {
		m[p.String()] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses "A+B" object keys back into canonical pairs.
func (w *InteractionWeights) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(InteractionWeights, len(m))
	for k, v := range m {
		p, err := ParseLayerPair(k)
		if err != nil {
			return err
		}
		out[p] = v
	}
	*w = out
	return nil
}
