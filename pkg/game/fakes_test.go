package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"outpost/pkg/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

type cdKey struct {
	id   int64
	kind types.CooldownKind
}

// memStore is an in-memory Store. Tx snapshots everything and restores it on failure.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	nextReport   int64
	players      map[int64]*types.Player
	construction map[int64]*types.ConstructionJob
	training     map[int64]*types.TrainingJob
	cooldowns    map[cdKey]types.Cooldown
	reports      map[int64]*types.BattleReport

	// failPut makes PutPlayer fail for the listed ids.
	failPut map[int64]bool
	// corrupt makes the job getters report a data integrity fault.
	corruptConstruction bool
	corruptTraining     bool
}

func newMemStore() *memStore {
	return &memStore{
		players:      map[int64]*types.Player{},
		construction: map[int64]*types.ConstructionJob{},
		training:     map[int64]*types.TrainingJob{},
		cooldowns:    map[cdKey]types.Cooldown{},
		reports:      map[int64]*types.BattleReport{},
		failPut:      map[int64]bool{},
	}
}

var errInjected = errors.New("injected write failure")

func (m *memStore) CreatePlayer(_ context.Context, p *types.Player) (int64, error) {
	m.nextID++
	c := p.Clone()
	c.ID = m.nextID
	m.players[c.ID] = c
	return c.ID, nil
}

func (m *memStore) GetPlayer(_ context.Context, id int64) (*types.Player, error) {
	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *memStore) PutPlayer(_ context.Context, p *types.Player) error {
	if m.failPut[p.ID] {
		return errInjected
	}
	m.players[p.ID] = p.Clone()
	return nil
}

func (m *memStore) ListPlayers(_ context.Context) ([]*types.Player, error) {
	out := []*types.Player{}
	for i := int64(1); i <= m.nextID; i++ {
		if p, ok := m.players[i]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *memStore) FindPlayerByToken(_ context.Context, hash string) (*types.Player, error) {
	for _, p := range m.players {
		if p.TokenHash == hash {
			return p.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetConstructionJob(_ context.Context, id int64) (*types.ConstructionJob, error) {
	if m.corruptConstruction {
		return nil, ErrDataIntegrity
	}
	j, ok := m.construction[id]
	if !ok {
		return nil, nil
	}
	c := *j
	return &c, nil
}

func (m *memStore) PutConstructionJob(_ context.Context, j *types.ConstructionJob) error {
	c := *j
	m.construction[j.PlayerID] = &c
	return nil
}

func (m *memStore) DeleteConstructionJob(_ context.Context, id int64) error {
	m.corruptConstruction = false
	delete(m.construction, id)
	return nil
}

func (m *memStore) GetTrainingJob(_ context.Context, id int64) (*types.TrainingJob, error) {
	if m.corruptTraining {
		return nil, ErrDataIntegrity
	}
	j, ok := m.training[id]
	if !ok {
		return nil, nil
	}
	c := *j
	return &c, nil
}

func (m *memStore) PutTrainingJob(_ context.Context, j *types.TrainingJob) error {
	c := *j
	m.training[j.PlayerID] = &c
	return nil
}

func (m *memStore) DeleteTrainingJob(_ context.Context, id int64) error {
	m.corruptTraining = false
	delete(m.training, id)
	return nil
}

func (m *memStore) GetCooldown(_ context.Context, id int64, kind types.CooldownKind) (*types.Cooldown, error) {
	cd, ok := m.cooldowns[cdKey{id, kind}]
	if !ok {
		return nil, nil
	}
	return &cd, nil
}

func (m *memStore) PutCooldown(_ context.Context, cd *types.Cooldown) error {
	m.cooldowns[cdKey{cd.PlayerID, cd.Kind}] = *cd
	return nil
}

func (m *memStore) AppendBattleReport(_ context.Context, r *types.BattleReport) (int64, error) {
	m.nextReport++
	c := *r
	c.ID = m.nextReport
	m.reports[c.ID] = &c
	return c.ID, nil
}

func (m *memStore) GetBattleReport(_ context.Context, id int64) (*types.BattleReport, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memStore) Tx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := m.snapshot()
	err := fn(m)
	if err != nil && !IsRejection(err) {
		m.restore(saved)
	}
	return err
}

type memState struct {
	nextID, nextReport int64
	players            map[int64]*types.Player
	construction       map[int64]*types.ConstructionJob
	training           map[int64]*types.TrainingJob
	cooldowns          map[cdKey]types.Cooldown
	reports            map[int64]*types.BattleReport
}

func (m *memStore) snapshot() memState {
	s := memState{
		nextID:       m.nextID,
		nextReport:   m.nextReport,
		players:      map[int64]*types.Player{},
		construction: map[int64]*types.ConstructionJob{},
		training:     map[int64]*types.TrainingJob{},
		cooldowns:    map[cdKey]types.Cooldown{},
		reports:      map[int64]*types.BattleReport{},
	}
	for k, v := range m.players {
		s.players[k] = v.Clone()
	}
	for k, v := range m.construction {
		c := *v
		s.construction[k] = &c
	}
	for k, v := range m.training {
		c := *v
		s.training[k] = &c
	}
	for k, v := range m.cooldowns {
		s.cooldowns[k] = v
	}
	for k, v := range m.reports {
		s.reports[k] = v
	}
	return s
}

func (m *memStore) restore(s memState) {
	m.nextID, m.nextReport = s.nextID, s.nextReport
	m.players = s.players
	m.construction = s.construction
	m.training = s.training
	m.cooldowns = s.cooldowns
	m.reports = s.reports
}

// recordingNotifier keeps every event and optionally fails delivery.
type recordingNotifier struct {
	events []types.Event
	fail   bool
}

func (n *recordingNotifier) Notify(_ context.Context, ev types.Event) error {
	n.events = append(n.events, ev)
	if n.fail {
		return ErrDeliveryFailed
	}
	return nil
}

func (n *recordingNotifier) count(kind types.EventKind) int {
	c := 0
	for _, ev := range n.events {
		if ev.Kind == kind {
			c++
		}
	}
	return c
}
