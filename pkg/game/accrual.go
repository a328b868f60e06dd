package game

import (
	"math"
	"time"

	"outpost/pkg/types"
)

// Accrue credits production earned since p.LastUpdate, capped at warehouse capacity.
// A player already holding more than the cap (loot, grants) keeps the surplus but earns nothing.
// LastUpdate always moves to now, so calling twice with the same now is a no-op.
func Accrue(p *types.Player, now time.Time, t *Tables) float64 {
	elapsed := now.Sub(p.LastUpdate)
	if elapsed < 0 {
		elapsed = 0
	}
	p.LastUpdate = now

	capacity := t.Capacity(p.Buildings[BuildingWarehouse])
	if p.Resources >= capacity {
		return 0
	}
	gained := elapsed.Hours() * t.ProductionRate(p.Buildings[BuildingCommandCenter])
	next := math.Min(capacity, p.Resources+gained)
	delta := next - p.Resources
	p.Resources = next
	return delta
}
