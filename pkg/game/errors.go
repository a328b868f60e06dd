package game

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrPrecondition   = errors.New("precondition failed")
	ErrDataIntegrity  = errors.New("data integrity fault")
	ErrCombatFailed   = errors.New("combat failed")
	ErrNoPrizes       = errors.New("prize table has no positive weight")
	ErrInvalidTables  = errors.New("invalid game tables")
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

type Reason string

const (
	ReasonInsufficientResources Reason = "insufficient resources"
	ReasonBuilderBusy           Reason = "builder busy"
	ReasonMaxLevel              Reason = "max level"
	ReasonNoUpgradePrice        Reason = "no upgrade price"
	ReasonTrainingInProgress    Reason = "training in progress"
	ReasonNoArmy                Reason = "no army"
	ReasonOnCooldown            Reason = "on cooldown"
	ReasonInvalidQuantity       Reason = "invalid quantity"
	ReasonUnknownBuilding       Reason = "unknown building"
	ReasonUnknownUnit           Reason = "unknown unit"
	ReasonSelfAttack            Reason = "cannot attack yourself"
	ReasonNotEnoughUnits        Reason = "not enough units"
)

// PreconditionError reports an action rejected before any state changed.
type PreconditionError struct {
	Reason    Reason
	Remaining time.Duration
}

func (e *PreconditionError) Error() string {
	if e.Remaining > 0 {
		return fmt.Sprintf("%s: %s (%s left)", ErrPrecondition, e.Reason, e.Remaining.Round(time.Second))
	}
	return fmt.Sprintf("%s: %s", ErrPrecondition, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

func precondition(r Reason) error { return &PreconditionError{Reason: r} }

// ReasonOf extracts the rejection reason, or "" when err is not a precondition failure.
func ReasonOf(err error) Reason {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}
