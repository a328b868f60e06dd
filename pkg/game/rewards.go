package game

import "math/rand"

// Roll picks one prize by cumulative relative weight. Zero-weight prizes are never picked.
func Roll(prizes []Prize, rng *rand.Rand) (Prize, error) {
	total := 0.0
	for _, p := range prizes {
		if p.Weight > 0 {
			total += p.Weight
		}
	}
	if total <= 0 {
		return Prize{}, ErrNoPrizes
	}

	x := rng.Float64() * total
	last := -1
	for i, p := range prizes {
		if p.Weight <= 0 {
			continue
		}
		last = i
		x -= p.Weight
		if x < 0 {
			return p, nil
		}
	}
	// float drift can leave x at ~0 after the final bucket
	return prizes[last], nil
}
