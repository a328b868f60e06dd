package types

import "time"

// --- Player ---

type Army struct {
	Active  map[string]int `json:"active"`
	Reserve map[string]int `json:"reserve"`
}

// Player is the durable record kept per player.
type Player struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	TokenHash   string         `json:"-"`
	Resources   float64        `json:"resources"`
	LastUpdate  time.Time      `json:"last_update"`
	Army        Army           `json:"army"`
	Buildings   map[string]int `json:"buildings"`
	AttackWins  int            `json:"attack_wins"`
	DefenseWins int            `json:"defense_wins"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Clone returns a deep copy so callers can mutate maps without touching the original.
func (p *Player) Clone() *Player {
	c := *p
	c.Army.Active = cloneCounts(p.Army.Active)
	c.Army.Reserve = cloneCounts(p.Army.Reserve)
	c.Buildings = cloneCounts(p.Buildings)
	return &c
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Queues ---

type QueueKind string

const (
	QueueConstruction QueueKind = "construction"
	QueueTraining     QueueKind = "training"
)

// Job is implemented by both production queue records.
type Job interface {
	Kind() QueueKind
	Owner() int64
}

type ConstructionJob struct {
	PlayerID   int64     `json:"player_id"`
	Building   string    `json:"building"`
	FinishTime time.Time `json:"finish_time"`
}

func (j *ConstructionJob) Kind() QueueKind { return QueueConstruction }
func (j *ConstructionJob) Owner() int64    { return j.PlayerID }

type TrainingJob struct {
	PlayerID           int64     `json:"player_id"`
	Unit               string    `json:"unit"`
	QuantityRemaining  int       `json:"quantity_remaining"`
	NextUnitFinishTime time.Time `json:"next_unit_finish_time"`
}

func (j *TrainingJob) Kind() QueueKind { return QueueTraining }
func (j *TrainingJob) Owner() int64    { return j.PlayerID }

// --- Cooldowns ---

type CooldownKind string

const (
	CooldownAttack CooldownKind = "attack"
	CooldownBonus  CooldownKind = "bonus"
)

type Cooldown struct {
	PlayerID   int64        `json:"player_id"`
	Kind       CooldownKind `json:"kind"`
	FinishTime time.Time    `json:"finish_time"`
	Notified   bool         `json:"notified"`
}

// --- Reports & Events ---

type BattleReport struct {
	ID        int64     `json:"id"`
	PlayerID  int64     `json:"player_id"`
	Text      string    `json:"text"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

type EventKind string

const (
	EventTrainingComplete     EventKind = "training_complete"
	EventConstructionComplete EventKind = "construction_complete"
	EventAttackReceived       EventKind = "attack_received"
	EventBonusReady           EventKind = "bonus_ready"
	EventBroadcast            EventKind = "broadcast"
)

// Event is an outbound notification for a single player.
type Event struct {
	Kind     EventKind `json:"kind"`
	PlayerID int64     `json:"player_id"`
	ReportID int64     `json:"report_id,omitempty"`
	Building string    `json:"building,omitempty"`
	Level    int       `json:"level,omitempty"`
	Unit     string    `json:"unit,omitempty"`
	Quantity int       `json:"quantity,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}
