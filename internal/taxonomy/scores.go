package taxonomy

// LayerScores maps each scored layer to its score in [0,1]. For a certificate
// to be complete its key set must equal the method's active layer set exactly.
type LayerScores map[Layer]float64

// Clone returns an independent copy.
func (s LayerScores) Clone() LayerScores {
	out := make(LayerScores, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Layers returns the scored layers as a set.
func (s LayerScores) Layers() LayerSet {
	set := make(LayerSet, len(s))
	for l := range s {
		set[l] = struct{}{}
	}
	return set
}

// Bounds returns the minimum and maximum score. ok is false when the map is
// empty.
func (s LayerScores) Bounds() (min, max float64, ok bool) {
	first := true
	for _, v := range s {
		if first {
			min, max, first = v, v, false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, !first
}
