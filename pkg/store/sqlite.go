package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"outpost/pkg/game"
	"outpost/pkg/types"
)

// Drivers accepted by Open. "sqlite" is the pure Go driver, "sqlite3" needs cgo.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// Times are stored as unix nanoseconds so they round-trip exactly.
const schema = `
CREATE TABLE IF NOT EXISTS system_meta (key TEXT PRIMARY KEY, value TEXT);

CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	token_hash TEXT UNIQUE,
	resources REAL NOT NULL DEFAULT 0,
	last_update INTEGER NOT NULL,
	army_json TEXT NOT NULL,
	buildings_json TEXT NOT NULL,
	attack_wins INTEGER NOT NULL DEFAULT 0,
	defense_wins INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS construction_queue (
	player_id INTEGER PRIMARY KEY,
	building TEXT NOT NULL,
	finish_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS training_queue (
	player_id INTEGER PRIMARY KEY,
	unit TEXT NOT NULL,
	quantity_remaining INTEGER NOT NULL,
	next_unit_finish_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cooldowns (
	player_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	finish_time INTEGER NOT NULL,
	notified INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (player_id, kind)
);

CREATE TABLE IF NOT EXISTS battle_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	player_id INTEGER NOT NULL,
	report_text TEXT NOT NULL,
	digest TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_snapshots (
	day_id INTEGER PRIMARY KEY, state_blob BLOB, final_hash TEXT
);
`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQLite record store. It satisfies game.Store.
type DB struct {
	sql   *sql.DB
	q     querier
	log   zerolog.Logger
	Locks *Locks
}

// Open connects with driver ("sqlite" or "sqlite3") and applies pragmas and schema.
// path ":memory:" gives a private in-memory database.
func Open(driver, path string, log zerolog.Logger) (*DB, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps :memory: on a single shared connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", strings.TrimSpace(p), err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &DB{
		sql:   conn,
		q:     conn,
		log:   log.With().Str("component", "store").Logger(),
		Locks: NewLocks(),
	}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// Tx implements game.Store. Rejections returned by fn still commit the catch-up writes.
func (d *DB) Tx(ctx context.Context, fn func(game.Store) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	inner := &DB{sql: d.sql, q: tx, log: d.log, Locks: d.Locks}
	ferr := fn(inner)
	if ferr != nil && !game.IsRejection(ferr) {
		if rerr := tx.Rollback(); rerr != nil {
			d.log.Error().Err(rerr).Msg("rollback failed")
		}
		return ferr
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return ferr
}

// --- Players ---

const playerColumns = `id, name, COALESCE(token_hash, ''), resources, last_update, army_json, buildings_json,
	attack_wins, defense_wins, created_at`

func (d *DB) CreatePlayer(ctx context.Context, p *types.Player) (int64, error) {
	army, buildings, err := encodePlayer(p)
	if err != nil {
		return 0, err
	}
	var token any
	if p.TokenHash != "" {
		token = p.TokenHash
	}
	res, err := d.q.ExecContext(ctx, `INSERT INTO players
		(name, token_hash, resources, last_update, army_json, buildings_json, attack_wins, defense_wins, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, token, p.Resources, p.LastUpdate.UnixNano(), army, buildings,
		p.AttackWins, p.DefenseWins, p.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) GetPlayer(ctx context.Context, id int64) (*types.Player, error) {
	row := d.q.QueryRowContext(ctx, "SELECT "+playerColumns+" FROM players WHERE id=?", id)
	return scanPlayer(row)
}

func (d *DB) FindPlayerByToken(ctx context.Context, tokenHash string) (*types.Player, error) {
	row := d.q.QueryRowContext(ctx, "SELECT "+playerColumns+" FROM players WHERE token_hash=?", tokenHash)
	return scanPlayer(row)
}

// PutPlayer overwrites the mutable columns. Last writer wins.
func (d *DB) PutPlayer(ctx context.Context, p *types.Player) error {
	army, buildings, err := encodePlayer(p)
	if err != nil {
		return err
	}
	res, err := d.q.ExecContext(ctx, `UPDATE players SET name=?, resources=?, last_update=?, army_json=?,
		buildings_json=?, attack_wins=?, defense_wins=? WHERE id=?`,
		p.Name, p.Resources, p.LastUpdate.UnixNano(), army, buildings, p.AttackWins, p.DefenseWins, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrNotFound
	}
	return nil
}

func (d *DB) ListPlayers(ctx context.Context) ([]*types.Player, error) {
	rows, err := d.q.QueryContext(ctx, "SELECT "+playerColumns+" FROM players ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(s scanner) (*types.Player, error) {
	var (
		p                      types.Player
		last, created          int64
		armyJSON, buildingJSON string
	)
	err := s.Scan(&p.ID, &p.Name, &p.TokenHash, &p.Resources, &last, &armyJSON, &buildingJSON,
		&p.AttackWins, &p.DefenseWins, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(armyJSON), &p.Army); err != nil {
		return nil, fmt.Errorf("%w: player %d army: %v", game.ErrDataIntegrity, p.ID, err)
	}
	if err := json.Unmarshal([]byte(buildingJSON), &p.Buildings); err != nil {
		return nil, fmt.Errorf("%w: player %d buildings: %v", game.ErrDataIntegrity, p.ID, err)
	}
	if p.Army.Active == nil {
		p.Army.Active = map[string]int{}
	}
	if p.Army.Reserve == nil {
		p.Army.Reserve = map[string]int{}
	}
	if p.Buildings == nil {
		p.Buildings = map[string]int{}
	}
	p.LastUpdate = time.Unix(0, last).UTC()
	p.CreatedAt = time.Unix(0, created).UTC()
	return &p, nil
}

func encodePlayer(p *types.Player) (army, buildings string, err error) {
	a, err := json.Marshal(p.Army)
	if err != nil {
		return "", "", err
	}
	b, err := json.Marshal(p.Buildings)
	if err != nil {
		return "", "", err
	}
	return string(a), string(b), nil
}

// --- Queues ---

func (d *DB) GetConstructionJob(ctx context.Context, playerID int64) (*types.ConstructionJob, error) {
	var j types.ConstructionJob
	var finish int64
	err := d.q.QueryRowContext(ctx, "SELECT player_id, building, finish_time FROM construction_queue WHERE player_id=?",
		playerID).Scan(&j.PlayerID, &j.Building, &finish)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.FinishTime = time.Unix(0, finish).UTC()
	if err := validateJob(&j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (d *DB) PutConstructionJob(ctx context.Context, j *types.ConstructionJob) error {
	if err := validateJob(j); err != nil {
		return err
	}
	_, err := d.q.ExecContext(ctx, "REPLACE INTO construction_queue (player_id, building, finish_time) VALUES (?, ?, ?)",
		j.PlayerID, j.Building, j.FinishTime.UnixNano())
	return err
}

func (d *DB) DeleteConstructionJob(ctx context.Context, playerID int64) error {
	_, err := d.q.ExecContext(ctx, "DELETE FROM construction_queue WHERE player_id=?", playerID)
	return err
}

func (d *DB) GetTrainingJob(ctx context.Context, playerID int64) (*types.TrainingJob, error) {
	var j types.TrainingJob
	var next int64
	err := d.q.QueryRowContext(ctx, `SELECT player_id, unit, quantity_remaining, next_unit_finish_time
		FROM training_queue WHERE player_id=?`, playerID).Scan(&j.PlayerID, &j.Unit, &j.QuantityRemaining, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.NextUnitFinishTime = time.Unix(0, next).UTC()
	if err := validateJob(&j); err != nil {
		return nil, err
	}
	return &j, nil
}

// PutTrainingJob replaces any existing batch for the player.
func (d *DB) PutTrainingJob(ctx context.Context, j *types.TrainingJob) error {
	if err := validateJob(j); err != nil {
		return err
	}
	_, err := d.q.ExecContext(ctx, `REPLACE INTO training_queue (player_id, unit, quantity_remaining, next_unit_finish_time)
		VALUES (?, ?, ?, ?)`, j.PlayerID, j.Unit, j.QuantityRemaining, j.NextUnitFinishTime.UnixNano())
	return err
}

func (d *DB) DeleteTrainingJob(ctx context.Context, playerID int64) error {
	_, err := d.q.ExecContext(ctx, "DELETE FROM training_queue WHERE player_id=?", playerID)
	return err
}

func validateJob(j types.Job) error {
	if j.Owner() <= 0 {
		return fmt.Errorf("%w: %s job has no owner", game.ErrDataIntegrity, j.Kind())
	}
	switch v := j.(type) {
	case *types.ConstructionJob:
		if v.Building == "" {
			return fmt.Errorf("%w: construction job for player %d has no building", game.ErrDataIntegrity, v.PlayerID)
		}
	case *types.TrainingJob:
		if v.Unit == "" || v.QuantityRemaining < 0 {
			return fmt.Errorf("%w: training job for player %d is malformed (%q x%d)",
				game.ErrDataIntegrity, v.PlayerID, v.Unit, v.QuantityRemaining)
		}
	}
	return nil
}

// --- Cooldowns ---

func (d *DB) GetCooldown(ctx context.Context, playerID int64, kind types.CooldownKind) (*types.Cooldown, error) {
	cd := types.Cooldown{PlayerID: playerID, Kind: kind}
	var finish int64
	err := d.q.QueryRowContext(ctx, "SELECT finish_time, notified FROM cooldowns WHERE player_id=? AND kind=?",
		playerID, string(kind)).Scan(&finish, &cd.Notified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cd.FinishTime = time.Unix(0, finish).UTC()
	return &cd, nil
}

// PutCooldown overwrites the previous cooldown of the same kind and clears its notified flag.
func (d *DB) PutCooldown(ctx context.Context, cd *types.Cooldown) error {
	_, err := d.q.ExecContext(ctx, "REPLACE INTO cooldowns (player_id, kind, finish_time, notified) VALUES (?, ?, ?, 0)",
		cd.PlayerID, string(cd.Kind), cd.FinishTime.UnixNano())
	return err
}

// DueCooldowns lists cooldowns of kind that ended by now and were not yet announced.
func (d *DB) DueCooldowns(ctx context.Context, kind types.CooldownKind, now time.Time) ([]types.Cooldown, error) {
	rows, err := d.q.QueryContext(ctx, `SELECT player_id, finish_time FROM cooldowns
		WHERE kind=? AND notified=0 AND finish_time<=? ORDER BY finish_time`, string(kind), now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Cooldown
	for rows.Next() {
		cd := types.Cooldown{Kind: kind}
		var finish int64
		if err := rows.Scan(&cd.PlayerID, &finish); err != nil {
			return nil, err
		}
		cd.FinishTime = time.Unix(0, finish).UTC()
		out = append(out, cd)
	}
	return out, rows.Err()
}

// MarkNotified flags cd as announced. A cooldown restarted since cd was read keeps
// its flag clear, so the new cycle is still announced.
func (d *DB) MarkNotified(ctx context.Context, cd types.Cooldown) error {
	_, err := d.q.ExecContext(ctx, "UPDATE cooldowns SET notified=1 WHERE player_id=? AND kind=? AND finish_time=?",
		cd.PlayerID, string(cd.Kind), cd.FinishTime.UnixNano())
	return err
}

// --- Battle reports ---

func (d *DB) AppendBattleReport(ctx context.Context, r *types.BattleReport) (int64, error) {
	res, err := d.q.ExecContext(ctx, "INSERT INTO battle_reports (player_id, report_text, digest, created_at) VALUES (?, ?, ?, ?)",
		r.PlayerID, r.Text, r.Digest, r.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) GetBattleReport(ctx context.Context, id int64) (*types.BattleReport, error) {
	r := types.BattleReport{ID: id}
	var created int64
	var digest sql.NullString
	err := d.q.QueryRowContext(ctx, "SELECT player_id, report_text, digest, created_at FROM battle_reports WHERE id=?", id).
		Scan(&r.PlayerID, &r.Text, &digest, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Digest = digest.String
	r.CreatedAt = time.Unix(0, created).UTC()
	return &r, nil
}
