package game

import (
	"math"
	"math/rand"
)

// Side is one party's strength going into an engagement.
type Side struct {
	Name      string
	Army      int
	Resources float64
	// Protected is the part of Resources that cannot be looted.
	Protected float64
}

// Result is the outcome of a single engagement.
type Result struct {
	Undefended       bool    `json:"undefended"`
	Luck             float64 `json:"luck"`
	AttackerInitial  int     `json:"attacker_initial"`
	DefenderInitial  int     `json:"defender_initial"`
	AttackerLosses   int     `json:"attacker_losses"`
	DefenderLosses   int     `json:"defender_losses"`
	AttackerSurvived int     `json:"attacker_survived"`
	DefenderSurvived int     `json:"defender_survived"`
	AttackerWon      bool    `json:"attacker_won"`
	Loot             float64 `json:"loot"`
}

// SampleLuck draws the engagement modifier from U(-spread, +spread).
func SampleLuck(rng *rand.Rand, spread float64) float64 {
	if spread <= 0 {
		return 0
	}
	return (rng.Float64()*2 - 1) * spread
}

// Resolve computes an engagement without touching any record.
// The defender strikes back with survivors only and without luck. The attacker wins only
// with strictly fewer losses than the defender; equal losses go to the defender.
func Resolve(att, def Side, unit UnitStats, luck float64) Result {
	r := Result{
		Luck:            luck,
		AttackerInitial: att.Army,
		DefenderInitial: def.Army,
	}
	if def.Army == 0 {
		r.Undefended = true
		r.AttackerSurvived = att.Army
		r.AttackerWon = true
		r.Loot = Loot(def.Resources, def.Protected, att.Army, unit.Cargo)
		return r
	}

	damageA := float64(att.Army) * unit.Attack * (1 + luck)
	r.DefenderLosses = minInt(def.Army, roundHalfEven(damageA/unit.HP))
	r.DefenderSurvived = def.Army - r.DefenderLosses

	damageD := float64(r.DefenderSurvived) * unit.Attack
	r.AttackerLosses = minInt(att.Army, roundHalfEven(damageD/unit.HP))
	r.AttackerSurvived = att.Army - r.AttackerLosses

	r.AttackerWon = r.AttackerLosses < r.DefenderLosses
	if r.AttackerWon {
		r.Loot = Loot(def.Resources, def.Protected, r.AttackerSurvived, unit.Cargo)
	}
	return r
}

// Loot is what survivors can carry off from stock above the protected amount.
func Loot(resources, protected float64, carriers int, cargo float64) float64 {
	available := math.Max(0, resources-protected)
	return math.Max(0, math.Min(available, float64(carriers)*cargo))
}

func roundHalfEven(x float64) int {
	return int(math.RoundToEven(x))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
