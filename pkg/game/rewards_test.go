package game

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestRollNeverPicksZeroWeight(t *testing.T) {
	prizes := []Prize{
		{Name: "common", Weight: 60},
		{Name: "never", Weight: 0},
		{Name: "uncommon", Weight: 30},
		{Name: "rare", Weight: 10},
	}
	rng := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	const trials = 10000
	for i := 0; i < trials; i++ {
		p, err := Roll(prizes, rng)
		if err != nil {
			t.Fatal(err)
		}
		counts[p.Name]++
	}
	if counts["never"] != 0 {
		t.Fatalf("zero-weight prize selected %d times", counts["never"])
	}
	for _, p := range prizes {
		want := p.Weight / 100
		got := float64(counts[p.Name]) / trials
		if math.Abs(got-want) > 0.02 {
			t.Errorf("%s: frequency %.3f, want %.2f", p.Name, got, want)
		}
	}
}

func TestRollRelativeWeights(t *testing.T) {
	// weights need not sum to 100
	prizes := []Prize{{Name: "a", Weight: 1}, {Name: "b", Weight: 3}}
	rng := rand.New(rand.NewSource(3))
	b := 0
	for i := 0; i < 8000; i++ {
		p, _ := Roll(prizes, rng)
		if p.Name == "b" {
			b++
		}
	}
	if got := float64(b) / 8000; math.Abs(got-0.75) > 0.03 {
		t.Errorf("expected ~0.75 for b, got %.3f", got)
	}
}

func TestRollEmptyTable(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := Roll(nil, rng); !errors.Is(err, ErrNoPrizes) {
		t.Errorf("expected ErrNoPrizes, got %v", err)
	}
	if _, err := Roll([]Prize{{Name: "x", Weight: 0}}, rng); !errors.Is(err, ErrNoPrizes) {
		t.Errorf("expected ErrNoPrizes for all-zero table, got %v", err)
	}
}
