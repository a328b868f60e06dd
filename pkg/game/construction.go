package game

import (
	"fmt"
	"time"

	"outpost/pkg/types"
)

// AdvanceConstruction finishes job if its time has come.
// done reports that the job record must be deleted. A job naming an unknown building is
// done without touching any level and returns ErrDataIntegrity.
func AdvanceConstruction(p *types.Player, job *types.ConstructionJob, now time.Time, t *Tables) (done bool, err error) {
	if job == nil || now.Before(job.FinishTime) {
		return false, nil
	}
	if !t.KnownBuilding(job.Building) {
		return true, fmt.Errorf("%w: construction job for player %d names unknown building %q",
			ErrDataIntegrity, p.ID, job.Building)
	}
	p.Buildings[job.Building]++
	return true, nil
}

// UpgradeQuote is the price and duration of raising a building by one level.
type UpgradeQuote struct {
	Building  string        `json:"building"`
	NextLevel int           `json:"next_level"`
	Cost      float64       `json:"cost"`
	Duration  time.Duration `json:"duration"`
}

// QuoteUpgrade validates an upgrade for p and prices it. Levels with a missing or
// non-positive cost are not purchasable.
func QuoteUpgrade(p *types.Player, building string, t *Tables) (UpgradeQuote, error) {
	if !t.KnownBuilding(building) {
		return UpgradeQuote{}, precondition(ReasonUnknownBuilding)
	}
	current := p.Buildings[building]
	if current >= t.MaxLevel {
		return UpgradeQuote{}, precondition(ReasonMaxLevel)
	}
	next := current + 1
	cost, ok := t.UpgradeCost[next]
	if !ok || cost <= 0 {
		return UpgradeQuote{}, precondition(ReasonNoUpgradePrice)
	}
	return UpgradeQuote{
		Building:  building,
		NextLevel: next,
		Cost:      cost,
		Duration:  time.Duration(t.UpgradeSeconds[next]) * time.Second,
	}, nil
}
