package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"outpost/pkg/types"
)

// Store is the durable record store the engine reads from and writes to.
// Absent jobs and cooldowns are returned as nil with a nil error; absent players and
// reports as ErrNotFound. Job records that fail validation come back as ErrDataIntegrity.
type Store interface {
	CreatePlayer(ctx context.Context, p *types.Player) (int64, error)
	GetPlayer(ctx context.Context, id int64) (*types.Player, error)
	PutPlayer(ctx context.Context, p *types.Player) error
	ListPlayers(ctx context.Context) ([]*types.Player, error)
	FindPlayerByToken(ctx context.Context, tokenHash string) (*types.Player, error)

	GetConstructionJob(ctx context.Context, playerID int64) (*types.ConstructionJob, error)
	PutConstructionJob(ctx context.Context, job *types.ConstructionJob) error
	DeleteConstructionJob(ctx context.Context, playerID int64) error

	GetTrainingJob(ctx context.Context, playerID int64) (*types.TrainingJob, error)
	PutTrainingJob(ctx context.Context, job *types.TrainingJob) error
	DeleteTrainingJob(ctx context.Context, playerID int64) error

	GetCooldown(ctx context.Context, playerID int64, kind types.CooldownKind) (*types.Cooldown, error)
	PutCooldown(ctx context.Context, cd *types.Cooldown) error

	AppendBattleReport(ctx context.Context, r *types.BattleReport) (int64, error)
	GetBattleReport(ctx context.Context, id int64) (*types.BattleReport, error)

	// Tx runs fn against a store view whose writes commit or roll back together.
	Tx(ctx context.Context, fn func(Store) error) error
}

// Notifier delivers events to players. Failures never roll back the state change.
type Notifier interface {
	Notify(ctx context.Context, ev types.Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, types.Event) error { return nil }

type Engine struct {
	store    Store
	tables   *Tables
	notifier Notifier
	clock    Clock
	log      zerolog.Logger
	// fingerprints persisted report text, optional
	digest func([]byte) string

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }
func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rng = r } }

// WithDigest sets the function used to fingerprint battle reports.
func WithDigest(f func([]byte) string) Option { return func(e *Engine) { e.digest = f } }

func NewEngine(store Store, tables *Tables, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		tables:   tables,
		notifier: nopNotifier{},
		clock:    RealClock{},
		log:      zerolog.Nop(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With().Str("component", "engine").Logger()
	return e
}

func (e *Engine) Tables() *Tables { return e.tables }

func (e *Engine) Now() time.Time { return e.clock.Now() }

func (e *Engine) withRand(fn func(*rand.Rand)) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	fn(e.rng)
}

// notify delivers events after state is committed.
func (e *Engine) notify(ctx context.Context, events []types.Event) {
	for _, ev := range events {
		if err := e.notifier.Notify(ctx, ev); err != nil {
			e.log.Warn().Err(err).Int64("player", ev.PlayerID).Str("event", string(ev.Kind)).
				Msg("transient delivery failure")
		}
	}
}

// --- Registration ---

// Register creates a player from the starting template.
func (e *Engine) Register(ctx context.Context, name, tokenHash string) (*types.Player, error) {
	if name == "" {
		return nil, precondition("name required")
	}
	now := e.clock.Now()
	p := &types.Player{
		Name:       name,
		TokenHash:  tokenHash,
		Resources:  e.tables.StartingResources,
		LastUpdate: now,
		CreatedAt:  now,
		Army:       types.Army{Active: map[string]int{}, Reserve: map[string]int{}},
		Buildings:  map[string]int{},
	}
	for u := range e.tables.Units {
		p.Army.Active[u] = 0
		p.Army.Reserve[u] = 0
	}
	for _, b := range e.tables.Buildings {
		p.Buildings[b] = 1
	}
	id, err := e.store.CreatePlayer(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create player: %w", err)
	}
	p.ID = id
	e.log.Info().Int64("player", id).Str("name", name).Msg("player registered")
	return p, nil
}

// --- Catch-up ---

// Refresh brings a player up to now: construction, then training, then accrual.
func (e *Engine) Refresh(ctx context.Context, id int64) (*types.Player, error) {
	var p *types.Player
	var events []types.Event
	err := e.store.Tx(ctx, func(s Store) error {
		var err error
		p, events, err = e.refresh(ctx, s, id, e.clock.Now())
		if err != nil {
			return err
		}
		return s.PutPlayer(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, events)
	return p, nil
}

// refresh loads and advances a player inside a transaction. Job records are rewritten
// through s; the player itself is left for the caller to persist.
func (e *Engine) refresh(ctx context.Context, s Store, id int64, now time.Time) (*types.Player, []types.Event, error) {
	p, err := s.GetPlayer(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var events []types.Event

	if ev, err := e.catchUpConstruction(ctx, s, p, now); err != nil {
		return nil, nil, err
	} else if ev != nil {
		events = append(events, *ev)
	}
	if ev, err := e.catchUpTraining(ctx, s, p, now); err != nil {
		return nil, nil, err
	} else if ev != nil {
		events = append(events, *ev)
	}
	Accrue(p, now, e.tables)
	return p, events, nil
}

func (e *Engine) catchUpConstruction(ctx context.Context, s Store, p *types.Player, now time.Time) (*types.Event, error) {
	job, err := s.GetConstructionJob(ctx, p.ID)
	if errors.Is(err, ErrDataIntegrity) {
		e.log.Error().Err(err).Int64("player", p.ID).Msg("discarding corrupt construction job")
		return nil, s.DeleteConstructionJob(ctx, p.ID)
	}
	if err != nil {
		return nil, err
	}
	done, err := AdvanceConstruction(p, job, now, e.tables)
	if !done {
		return nil, nil
	}
	if derr := s.DeleteConstructionJob(ctx, p.ID); derr != nil {
		return nil, derr
	}
	if err != nil {
		e.log.Error().Err(err).Int64("player", p.ID).Msg("discarding corrupt construction job")
		return nil, nil
	}
	return &types.Event{
		Kind:     types.EventConstructionComplete,
		PlayerID: p.ID,
		Building: job.Building,
		Level:    p.Buildings[job.Building],
		At:       now,
	}, nil
}

func (e *Engine) catchUpTraining(ctx context.Context, s Store, p *types.Player, now time.Time) (*types.Event, error) {
	job, err := s.GetTrainingJob(ctx, p.ID)
	if errors.Is(err, ErrDataIntegrity) {
		e.log.Error().Err(err).Int64("player", p.ID).Msg("discarding corrupt training job")
		return nil, s.DeleteTrainingJob(ctx, p.ID)
	}
	if err != nil || job == nil {
		return nil, err
	}
	completed, err := AdvanceTraining(p, job, now, e.tables)
	if err != nil {
		e.log.Error().Err(err).Int64("player", p.ID).Msg("discarding corrupt training job")
		return nil, s.DeleteTrainingJob(ctx, p.ID)
	}
	if job.QuantityRemaining == 0 {
		if err := s.DeleteTrainingJob(ctx, p.ID); err != nil {
			return nil, err
		}
		if completed == 0 {
			return nil, nil
		}
		return &types.Event{
			Kind:     types.EventTrainingComplete,
			PlayerID: p.ID,
			Unit:     job.Unit,
			Quantity: completed,
			At:       now,
		}, nil
	}
	if completed > 0 {
		return nil, s.PutTrainingJob(ctx, job)
	}
	return nil, nil
}

// --- Construction ---

// StartUpgrade buys the next level of building and queues it.
func (e *Engine) StartUpgrade(ctx context.Context, id int64, building string) (*types.ConstructionJob, error) {
	var job *types.ConstructionJob
	var events []types.Event
	err := e.store.Tx(ctx, func(s Store) error {
		now := e.clock.Now()
		p, evs, err := e.refresh(ctx, s, id, now)
		if err != nil {
			return err
		}
		events = evs
		current, err := s.GetConstructionJob(ctx, id)
		if err != nil {
			return err
		}
		if current != nil {
			return commitThen(ctx, s, p, precondition(ReasonBuilderBusy))
		}
		q, err := QuoteUpgrade(p, building, e.tables)
		if err != nil {
			return commitThen(ctx, s, p, err)
		}
		if p.Resources < q.Cost {
			return commitThen(ctx, s, p, precondition(ReasonInsufficientResources))
		}
		p.Resources -= q.Cost
		job = &types.ConstructionJob{PlayerID: id, Building: building, FinishTime: now.Add(q.Duration)}
		if err := s.PutConstructionJob(ctx, job); err != nil {
			return err
		}
		return s.PutPlayer(ctx, p)
	})
	err = e.settle(ctx, err, events)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int64("player", id).Str("building", building).Time("finish", job.FinishTime).Msg("upgrade started")
	return job, nil
}

// --- Training ---

// StartTraining orders quantity units. Only one batch may be queued at a time.
func (e *Engine) StartTraining(ctx context.Context, id int64, unit string, quantity int) (*types.TrainingJob, error) {
	var job *types.TrainingJob
	var events []types.Event
	err := e.store.Tx(ctx, func(s Store) error {
		now := e.clock.Now()
		p, evs, err := e.refresh(ctx, s, id, now)
		if err != nil {
			return err
		}
		events = evs
		stats, ok := e.tables.Units[unit]
		if !ok {
			return commitThen(ctx, s, p, precondition(ReasonUnknownUnit))
		}
		if quantity < 1 {
			return commitThen(ctx, s, p, precondition(ReasonInvalidQuantity))
		}
		current, err := s.GetTrainingJob(ctx, id)
		if err != nil {
			return err
		}
		if current != nil && current.QuantityRemaining > 0 {
			return commitThen(ctx, s, p, precondition(ReasonTrainingInProgress))
		}
		cost := stats.Cost * float64(quantity)
		if p.Resources < cost {
			return commitThen(ctx, s, p, precondition(ReasonInsufficientResources))
		}
		p.Resources -= cost
		job = &types.TrainingJob{
			PlayerID:           id,
			Unit:               unit,
			QuantityRemaining:  quantity,
			NextUnitFinishTime: now.Add(e.tables.TrainingTime(p.Buildings[BuildingBarracks])),
		}
		if err := s.PutTrainingJob(ctx, job); err != nil {
			return err
		}
		return s.PutPlayer(ctx, p)
	})
	err = e.settle(ctx, err, events)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int64("player", id).Str("unit", unit).Int("quantity", quantity).Msg("training started")
	return job, nil
}

// --- Army ---

// MoveArmy shifts units between the reserve and the active army. toActive selects the direction.
func (e *Engine) MoveArmy(ctx context.Context, id int64, unit string, quantity int, toActive bool) (*types.Player, error) {
	return e.mutate(ctx, id, func(p *types.Player) error {
		if _, ok := e.tables.Units[unit]; !ok {
			return precondition(ReasonUnknownUnit)
		}
		if quantity < 1 {
			return precondition(ReasonInvalidQuantity)
		}
		from, to := p.Army.Active, p.Army.Reserve
		if toActive {
			from, to = p.Army.Reserve, p.Army.Active
		}
		if from[unit] < quantity {
			return precondition(ReasonNotEnoughUnits)
		}
		from[unit] -= quantity
		to[unit] += quantity
		return nil
	})
}

// GrantResources credits amount to a player. The result may exceed warehouse capacity.
func (e *Engine) GrantResources(ctx context.Context, id int64, amount float64) (*types.Player, error) {
	p, err := e.mutate(ctx, id, func(p *types.Player) error {
		if amount <= 0 {
			return precondition(ReasonInvalidQuantity)
		}
		p.Resources += amount
		return nil
	})
	if err == nil {
		e.log.Info().Int64("player", id).Float64("amount", amount).Msg("resources granted")
	}
	return p, err
}

// mutate refreshes a player and applies fn. A rejected fn still persists the refresh.
func (e *Engine) mutate(ctx context.Context, id int64, fn func(p *types.Player) error) (*types.Player, error) {
	var p *types.Player
	var events []types.Event
	err := e.store.Tx(ctx, func(s Store) error {
		var err error
		p, events, err = e.refresh(ctx, s, id, e.clock.Now())
		if err != nil {
			return err
		}
		snapshot := p.Clone()
		if ferr := fn(p); ferr != nil {
			return commitThen(ctx, s, snapshot, ferr)
		}
		return s.PutPlayer(ctx, p)
	})
	err = e.settle(ctx, err, events)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// --- Cooldowns ---

// Blocked reports the time left on a player's cooldown of the given kind.
func (e *Engine) Blocked(ctx context.Context, id int64, kind types.CooldownKind) (time.Duration, bool, error) {
	cd, err := e.store.GetCooldown(ctx, id, kind)
	if err != nil {
		return 0, false, err
	}
	left, blocked := Remaining(cd, e.clock.Now())
	return left, blocked, nil
}

// --- Bonus ---

// BonusResult is the prize awarded by a claim.
type BonusResult struct {
	Prize  Prize         `json:"prize"`
	Player *types.Player `json:"player"`
	Next   time.Time     `json:"next_claim"`
}

// ClaimBonus rolls the prize table for a player off bonus cooldown.
func (e *Engine) ClaimBonus(ctx context.Context, id int64) (*BonusResult, error) {
	var res *BonusResult
	var events []types.Event
	err := e.store.Tx(ctx, func(s Store) error {
		now := e.clock.Now()
		p, evs, err := e.refresh(ctx, s, id, now)
		if err != nil {
			return err
		}
		events = evs
		cd, err := s.GetCooldown(ctx, id, types.CooldownBonus)
		if err != nil {
			return err
		}
		if left, blocked := Remaining(cd, now); blocked {
			return commitThen(ctx, s, p, &PreconditionError{Reason: ReasonOnCooldown, Remaining: left})
		}
		var prize Prize
		e.withRand(func(r *rand.Rand) { prize, err = Roll(e.tables.Prizes, r) })
		if err != nil {
			return err
		}
		switch prize.Payout {
		case PayoutUnits:
			p.Army.Reserve[prize.Unit] += prize.Amount
		default:
			p.Resources += float64(prize.Amount)
		}
		next := newCooldown(id, types.CooldownBonus, now, e.tables.BonusCooldown())
		if err := s.PutCooldown(ctx, next); err != nil {
			return err
		}
		if err := s.PutPlayer(ctx, p); err != nil {
			return err
		}
		res = &BonusResult{Prize: prize, Player: p, Next: next.FinishTime}
		return nil
	})
	err = e.settle(ctx, err, events)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int64("player", id).Str("prize", res.Prize.Name).Msg("bonus claimed")
	return res, nil
}

// --- Reads ---

// Targets lists every player other than id.
func (e *Engine) Targets(ctx context.Context, id int64) ([]*types.Player, error) {
	all, err := e.store.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Player, 0, len(all))
	for _, p := range all {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out, nil
}

// Report returns a battle report addressed to id.
func (e *Engine) Report(ctx context.Context, id, reportID int64) (*types.BattleReport, error) {
	r, err := e.store.GetBattleReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.PlayerID != id {
		return nil, ErrNotFound
	}
	return r, nil
}

// --- rejection plumbing ---

// rejection carries a precondition failure out of a transaction whose catch-up writes
// were already committed.
type rejection struct{ err error }

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

// commitThen persists the refreshed player and then reports reason to the caller.
// Tx implementations commit when fn returns a *rejection.
func commitThen(ctx context.Context, s Store, p *types.Player, reason error) error {
	if err := s.PutPlayer(ctx, p); err != nil {
		return err
	}
	return &rejection{err: reason}
}

// settle delivers the events of a committed transaction and unwraps any rejection.
func (e *Engine) settle(ctx context.Context, err error, events []types.Event) error {
	if err == nil || IsRejection(err) {
		e.notify(ctx, events)
	}
	return unwrapRejection(err)
}

func unwrapRejection(err error) error {
	var r *rejection
	if errors.As(err, &r) {
		return r.err
	}
	return err
}

// IsRejection reports whether err should commit the surrounding transaction.
func IsRejection(err error) bool {
	var r *rejection
	return errors.As(err, &r)
}
