package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"outpost/pkg/types"
)

// AttackOutcome is what the attacker sees after an engagement.
type AttackOutcome struct {
	Result   Result        `json:"result"`
	Report   string        `json:"report"`
	ReportID int64         `json:"defender_report_id"`
	Attacker *types.Player `json:"attacker"`
}

// Attack resolves one engagement of attackerID against defenderID.
// Everything is written in a single transaction. Any unexpected failure, including a panic
// during resolution, rolls it back and surfaces as ErrCombatFailed.
func (e *Engine) Attack(ctx context.Context, attackerID, defenderID int64) (*AttackOutcome, error) {
	if attackerID == defenderID {
		return nil, precondition(ReasonSelfAttack)
	}
	var out *AttackOutcome
	var events []types.Event
	err := e.store.Tx(ctx, func(s Store) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: panic: %v", ErrCombatFailed, r)
			}
		}()
		now := e.clock.Now()
		att, evA, err := e.refresh(ctx, s, attackerID, now)
		if err != nil {
			return err
		}
		def, evD, err := e.refresh(ctx, s, defenderID, now)
		if err != nil {
			return err
		}
		events = append(evA, evD...)

		cd, err := s.GetCooldown(ctx, attackerID, types.CooldownAttack)
		if err != nil {
			return err
		}
		if left, blocked := Remaining(cd, now); blocked {
			return commitBoth(ctx, s, att, def, &PreconditionError{Reason: ReasonOnCooldown, Remaining: left})
		}
		unitName := e.tables.CombatUnit
		if att.Army.Active[unitName] <= 0 {
			return commitBoth(ctx, s, att, def, precondition(ReasonNoArmy))
		}

		out, err = e.engage(ctx, s, att, def, now)
		if err != nil {
			return err
		}
		events = append(events, types.Event{
			Kind:     types.EventAttackReceived,
			PlayerID: defenderID,
			ReportID: out.ReportID,
			At:       now,
		})
		return nil
	})
	if err != nil {
		if IsRejection(err) {
			return nil, e.settle(ctx, err, events)
		}
		if errors.Is(err, ErrPrecondition) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		e.log.Error().Err(err).Int64("attacker", attackerID).Int64("defender", defenderID).Msg("combat failed")
		if !errors.Is(err, ErrCombatFailed) {
			err = fmt.Errorf("%w: %v", ErrCombatFailed, err)
		}
		return nil, err
	}
	e.notify(ctx, events)
	e.log.Info().Int64("attacker", attackerID).Int64("defender", defenderID).
		Bool("attacker_won", out.Result.AttackerWon).Float64("loot", out.Result.Loot).Msg("attack resolved")
	return out, nil
}

// engage applies the resolved result to both records and persists everything.
func (e *Engine) engage(ctx context.Context, s Store, att, def *types.Player, now time.Time) (*AttackOutcome, error) {
	unitName := e.tables.CombatUnit
	unit := e.tables.Units[unitName]

	attSide := Side{Name: att.Name, Army: att.Army.Active[unitName], Resources: att.Resources}
	defSide := Side{
		Name:      def.Name,
		Army:      def.Army.Active[unitName],
		Resources: def.Resources,
		Protected: e.tables.Protected(def.Buildings[BuildingWarehouse]),
	}
	var luck float64
	if defSide.Army > 0 {
		e.withRand(func(r *rand.Rand) { luck = SampleLuck(r, e.tables.Luck) })
	}
	res := Resolve(attSide, defSide, unit, luck)

	att.Army.Active[unitName] = res.AttackerSurvived
	def.Army.Active[unitName] = res.DefenderSurvived
	att.Resources += res.Loot
	def.Resources -= res.Loot
	if res.AttackerWon {
		att.AttackWins++
	} else {
		def.DefenseWins++
	}

	if err := s.PutPlayer(ctx, att); err != nil {
		return nil, fmt.Errorf("write attacker: %w", err)
	}
	if err := s.PutPlayer(ctx, def); err != nil {
		return nil, fmt.Errorf("write defender: %w", err)
	}
	if err := s.PutCooldown(ctx, newCooldown(att.ID, types.CooldownAttack, now, e.tables.AttackCooldown())); err != nil {
		return nil, fmt.Errorf("write cooldown: %w", err)
	}

	text := DefenderReport(res, att.Name, def.Name, now)
	report := &types.BattleReport{PlayerID: def.ID, Text: text, CreatedAt: now}
	if e.digest != nil {
		report.Digest = e.digest([]byte(text))
	}
	id, err := s.AppendBattleReport(ctx, report)
	if err != nil {
		return nil, fmt.Errorf("append report: %w", err)
	}
	return &AttackOutcome{
		Result:   res,
		Report:   AttackerReport(res, att.Name, def.Name, now),
		ReportID: id,
		Attacker: att,
	}, nil
}

func commitBoth(ctx context.Context, s Store, a, b *types.Player, reason error) error {
	if err := s.PutPlayer(ctx, b); err != nil {
		return err
	}
	return commitThen(ctx, s, a, reason)
}
