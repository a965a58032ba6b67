// Package fusion combines per-layer scores into one bounded score with a
// 2-additive Choquet integral in its Möbius representation:
//
//	final = Σ_i w_i·s_i  +  Σ_(i,j) w_ij·min(s_i, s_j)
//
// With all weights non-negative and summing to 1, the result lies between
// the smallest and largest input score. That containment is what the
// certificate validator's boundedness check relies on.
package fusion

import (
	"sort"

	"calfuse/internal/taxonomy"
)

// Breakdown is the fully itemized result of one fusion: the final score, the
// two partial sums, and every individual contribution.
type Breakdown struct {
	FinalScore     float64                     `json:"final_score"`
	LinearSum      float64                     `json:"linear_sum"`
	InteractionSum float64                     `json:"interaction_sum"`
	PerLayer       taxonomy.LinearWeights      `json:"per_layer_contribution"`
	PerInteraction taxonomy.InteractionWeights `json:"per_interaction_contribution"`
}

// Fuse aggregates the layer scores under the given weights. Weights for
// layers absent from scores are skipped, not treated as zero-score terms;
// an interaction weight applies only when both of its layers are present.
// Out-of-range scores and negative weights fail with *BoundsError.
func Fuse(scores taxonomy.LayerScores, linear taxonomy.LinearWeights, interaction taxonomy.InteractionWeights) (Breakdown, error) {
	for layer, s := range scores {
		if err := taxonomy.CheckUnitScore("score for layer "+string(layer), s); err != nil {
			return Breakdown{}, err
		}
	}
	for layer, w := range linear {
		if w < 0 {
			return Breakdown{}, &taxonomy.BoundsError{
				What: "linear weight for " + string(layer), Value: w, Lower: 0, Upper: 1,
			}
		}
	}
	for pair, w := range interaction {
		if w < 0 {
			return Breakdown{}, &taxonomy.BoundsError{
				What: "interaction weight for " + pair.String(), Value: w, Lower: 0, Upper: 1,
			}
		}
	}

	b := Breakdown{
		PerLayer:       make(taxonomy.LinearWeights, len(linear)),
		PerInteraction: make(taxonomy.InteractionWeights, len(interaction)),
	}

	for layer, w := range linear {
		s, ok := scores[layer]
		if !ok {
			continue
		}
		c := w * s
		b.PerLayer[layer] = c
		b.LinearSum += c
	}

	for pair, w := range interaction {
		a, okA := scores[pair.First]
		c, okC := scores[pair.Second]
		if !okA || !okC {
			continue
		}
		term := w * min(a, c)
		b.PerInteraction[pair] = term
		b.InteractionSum += term
	}

	b.FinalScore = b.LinearSum + b.InteractionSum
	return b, nil
}

// Contributions returns the per-layer contributions as ordered (layer, value)
// pairs in canonical layer order, for report rendering.
func (b Breakdown) Contributions() []LayerContribution {
	out := make([]LayerContribution, 0, len(b.PerLayer))
	for layer, v := range b.PerLayer {
		out = append(out, LayerContribution{Layer: layer, Value: v})
	}
	rank := make(map[taxonomy.Layer]int, len(taxonomy.AllLayers))
	for i, l := range taxonomy.AllLayers {
		rank[l] = i
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i].Layer] < rank[out[j].Layer] })
	return out
}

// LayerContribution is one layer's weighted contribution to the final score.
type LayerContribution struct {
	Layer taxonomy.Layer `json:"layer"`
	Value float64        `json:"value"`
}
