package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"outpost/pkg/game"
	"outpost/pkg/journal"
	"outpost/pkg/store"
)

// --- Configuration ---
const (
	DefaultAddr      = ":8080"
	DefaultDBPath    = "./data/outpost.db"
	DefaultJournal   = "./data/journal"
	DefaultRate      = 10
	DefaultBurst     = 20
	DefaultSnapshot  = 24 * time.Hour
	DefaultBonusScan = 30 * time.Second

	maxBroadcastLen = 1000
)

var (
	// Infrastructure
	db       *store.DB
	engine   *game.Engine
	hub      *Hub
	journ    *journal.Journal
	notifier game.Notifier
	Log      zerolog.Logger

	// Config
	Config struct {
		Addr           string
		DBDriver       string
		DBPath         string
		TablesPath     string
		JournalDir     string
		AdminToken     string
		CommandControl bool
		SnapshotEvery  time.Duration
		BonusScanEvery time.Duration
		RateLimit      float64
		RateBurst      int
	}

	// Rate Limiting
	ipLimiters = make(map[string]*rate.Limiter)
	ipLock     sync.Mutex
)
