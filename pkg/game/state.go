package game

import (
	"context"
	"time"

	"outpost/pkg/types"
)

// PlayerState is a refreshed player plus everything derived from it for display.
type PlayerState struct {
	Player        *types.Player          `json:"player"`
	Construction  *types.ConstructionJob `json:"construction,omitempty"`
	BuildLeft     time.Duration          `json:"build_left,omitempty"`
	Training      *types.TrainingJob     `json:"training,omitempty"`
	TrainingLeft  time.Duration          `json:"training_left,omitempty"`
	AttackLeft    time.Duration          `json:"attack_cooldown_left,omitempty"`
	BonusLeft     time.Duration          `json:"bonus_cooldown_left,omitempty"`
	RatePerHour   float64                `json:"rate_per_hour"`
	Capacity      float64                `json:"capacity"`
	Protected     float64                `json:"protected"`
	Upgrades      []UpgradeQuote         `json:"upgrades"`
	UpgradeErrors map[string]string      `json:"upgrade_blocked,omitempty"`
}

// State refreshes id and describes it.
func (e *Engine) State(ctx context.Context, id int64) (*PlayerState, error) {
	p, err := e.Refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	st := &PlayerState{
		Player:      p,
		RatePerHour: e.tables.ProductionRate(p.Buildings[BuildingCommandCenter]),
		Capacity:    e.tables.Capacity(p.Buildings[BuildingWarehouse]),
		Protected:   e.tables.Protected(p.Buildings[BuildingWarehouse]),
	}

	if st.Construction, err = e.store.GetConstructionJob(ctx, id); err != nil {
		return nil, err
	}
	if st.Construction != nil {
		st.BuildLeft = nonNegative(st.Construction.FinishTime.Sub(now))
	}
	if st.Training, err = e.store.GetTrainingJob(ctx, id); err != nil {
		return nil, err
	}
	st.TrainingLeft = TrainingTimeLeft(p, st.Training, now, e.tables)

	for kind, dst := range map[types.CooldownKind]*time.Duration{
		types.CooldownAttack: &st.AttackLeft,
		types.CooldownBonus:  &st.BonusLeft,
	} {
		cd, err := e.store.GetCooldown(ctx, id, kind)
		if err != nil {
			return nil, err
		}
		*dst, _ = Remaining(cd, now)
	}

	for _, b := range e.tables.Buildings {
		q, err := QuoteUpgrade(p, b, e.tables)
		if err != nil {
			if st.UpgradeErrors == nil {
				st.UpgradeErrors = map[string]string{}
			}
			st.UpgradeErrors[b] = string(ReasonOf(err))
			continue
		}
		st.Upgrades = append(st.Upgrades, q)
	}
	return st, nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
