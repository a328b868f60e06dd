package game

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BuildingCommandCenter = "command_center"
	BuildingBarracks      = "barracks"
	BuildingWarehouse     = "warehouse"

	UnitSoldier = "soldier"
)

type UnitStats struct {
	Cost   float64 `yaml:"cost" json:"cost"`
	HP     float64 `yaml:"hp" json:"hp"`
	Attack float64 `yaml:"attack" json:"attack"`
	Cargo  float64 `yaml:"cargo" json:"cargo"`
}

// PayoutKind selects where a prize is credited.
type PayoutKind string

const (
	PayoutResources PayoutKind = "resources"
	PayoutUnits     PayoutKind = "units"
)

type Prize struct {
	Name   string     `yaml:"name" json:"name"`
	Weight float64    `yaml:"weight" json:"weight"`
	Payout PayoutKind `yaml:"payout" json:"payout"`
	Amount int        `yaml:"amount" json:"amount"`
	Unit   string     `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// Tables is the static, read-only game configuration.
type Tables struct {
	BaseProduction     float64              `yaml:"base_production"`
	Luck               float64              `yaml:"luck"`
	ProtectionFraction float64              `yaml:"protection_fraction"`
	MaxLevel           int                  `yaml:"max_level"`
	DefaultTrainingSec int                  `yaml:"default_training_seconds"`
	AttackCooldownSec  int                  `yaml:"attack_cooldown_seconds"`
	BonusCooldownSec   int                  `yaml:"bonus_cooldown_seconds"`
	StartingResources  float64              `yaml:"starting_resources"`
	CombatUnit         string               `yaml:"combat_unit"`
	Buildings          []string             `yaml:"buildings"`
	Units              map[string]UnitStats `yaml:"units"`
	TrainingSeconds    map[int]int          `yaml:"training_seconds"`
	WarehouseCapacity  map[int]float64      `yaml:"warehouse_capacity"`
	UpgradeSeconds     map[int]int          `yaml:"upgrade_seconds"`
	UpgradeCost        map[int]float64      `yaml:"upgrade_cost"`
	Prizes             []Prize              `yaml:"prizes"`
}

// DefaultTables returns the stock balance sheet.
func DefaultTables() *Tables {
	return &Tables{
		BaseProduction:     50,
		Luck:               0.25,
		ProtectionFraction: 0.40,
		MaxLevel:           10,
		DefaultTrainingSec: 999,
		AttackCooldownSec:  600,
		BonusCooldownSec:   86400,
		StartingResources:  1000,
		CombatUnit:         UnitSoldier,
		Buildings:          []string{BuildingCommandCenter, BuildingBarracks, BuildingWarehouse},
		Units: map[string]UnitStats{
			UnitSoldier: {Cost: 25, HP: 15, Attack: 3, Cargo: 5},
		},
		TrainingSeconds: map[int]int{
			1: 90, 2: 82, 3: 75, 4: 68, 5: 62, 6: 56, 7: 50, 8: 45, 9: 40, 10: 35,
		},
		WarehouseCapacity: map[int]float64{
			1: 1000, 2: 2500, 3: 5000, 4: 9000, 5: 15000,
			6: 25000, 7: 40000, 8: 60000, 9: 80000, 10: 100000,
		},
		UpgradeSeconds: map[int]int{
			1: 300, 2: 600, 3: 1200, 4: 2700, 5: 5400,
			6: 10800, 7: 21600, 8: 43200, 9: 86400, 10: 172800,
		},
		UpgradeCost: map[int]float64{
			1: 800, 2: 2000, 3: 4500, 4: 8000, 5: 13000,
			6: 22000, 7: 35000, 8: 55000, 9: 75000, 10: 0,
		},
		Prizes: []Prize{
			{Name: "small supply crate", Weight: 50, Payout: PayoutResources, Amount: 200},
			{Name: "large supply crate", Weight: 20, Payout: PayoutResources, Amount: 750},
			{Name: "recruits", Weight: 25, Payout: PayoutUnits, Amount: 5, Unit: UnitSoldier},
			{Name: "veteran squad", Weight: 5, Payout: PayoutUnits, Amount: 20, Unit: UnitSoldier},
		},
	}
}

// LoadTables reads a YAML file over the defaults. Keys missing from the file keep their default.
func LoadTables(path string) (*Tables, error) {
	t := DefaultTables()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("tables %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tables %s: %w", path, err)
	}
	return t, nil
}

func (t *Tables) Validate() error {
	switch {
	case t.BaseProduction < 0:
		return fmt.Errorf("%w: base_production must be >= 0", ErrInvalidTables)
	case t.Luck < 0 || t.Luck >= 1:
		return fmt.Errorf("%w: luck must be in [0, 1)", ErrInvalidTables)
	case t.ProtectionFraction < 0 || t.ProtectionFraction > 1:
		return fmt.Errorf("%w: protection_fraction must be in [0, 1]", ErrInvalidTables)
	case t.MaxLevel < 1:
		return fmt.Errorf("%w: max_level must be >= 1", ErrInvalidTables)
	case len(t.Buildings) == 0:
		return fmt.Errorf("%w: no buildings", ErrInvalidTables)
	}
	if _, ok := t.Units[t.CombatUnit]; !ok {
		return fmt.Errorf("%w: combat_unit %q is not a known unit", ErrInvalidTables, t.CombatUnit)
	}
	for name, u := range t.Units {
		if u.HP <= 0 {
			return fmt.Errorf("%w: unit %s needs positive hp", ErrInvalidTables, name)
		}
		if u.Attack < 0 || u.Cargo < 0 {
			return fmt.Errorf("%w: unit %s has negative attack or cargo", ErrInvalidTables, name)
		}
	}
	for _, p := range t.Prizes {
		if p.Weight < 0 {
			return fmt.Errorf("%w: prize %q has negative weight", ErrInvalidTables, p.Name)
		}
		switch p.Payout {
		case PayoutResources:
		case PayoutUnits:
			if _, ok := t.Units[p.Unit]; !ok {
				return fmt.Errorf("%w: prize %q pays unknown unit %q", ErrInvalidTables, p.Name, p.Unit)
			}
		default:
			return fmt.Errorf("%w: prize %q has unknown payout %q", ErrInvalidTables, p.Name, p.Payout)
		}
	}
	return nil
}

func (t *Tables) KnownBuilding(name string) bool {
	for _, b := range t.Buildings {
		if b == name {
			return true
		}
	}
	return false
}

// Capacity is the storage cap for a warehouse level, 0 when the level is not tabulated.
func (t *Tables) Capacity(warehouseLevel int) float64 {
	return t.WarehouseCapacity[warehouseLevel]
}

// TrainingTime is the per-unit training duration for a barracks level.
func (t *Tables) TrainingTime(barracksLevel int) time.Duration {
	sec, ok := t.TrainingSeconds[barracksLevel]
	if !ok {
		sec = t.DefaultTrainingSec
	}
	return time.Duration(sec) * time.Second
}

// ProductionRate is resources per hour for a command center level.
func (t *Tables) ProductionRate(commandLevel int) float64 {
	return t.BaseProduction * float64(commandLevel)
}

func (t *Tables) AttackCooldown() time.Duration {
	return time.Duration(t.AttackCooldownSec) * time.Second
}

func (t *Tables) BonusCooldown() time.Duration {
	return time.Duration(t.BonusCooldownSec) * time.Second
}

// Protected is the share of stored resources that cannot be looted.
func (t *Tables) Protected(warehouseLevel int) float64 {
	return t.Capacity(warehouseLevel) * t.ProtectionFraction
}
