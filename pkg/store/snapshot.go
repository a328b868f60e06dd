package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"outpost/pkg/core"
	"outpost/pkg/types"
)

// Snapshot is one link of the world hash chain.
type Snapshot struct {
	DayID     int64
	Size      int
	FinalHash string
}

// GenesisHash returns the chain root, creating it on first boot.
func (d *DB) GenesisHash(ctx context.Context) (string, error) {
	var hash string
	err := d.q.QueryRowContext(ctx, "SELECT value FROM system_meta WHERE key='genesis_hash'").Scan(&hash)
	if err == nil {
		return hash, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	hash = core.Hash([]byte(fmt.Sprintf("GENESIS-%d-%s", time.Now().UnixNano(), uuid.NewString())))
	if _, err := d.q.ExecContext(ctx, "INSERT INTO system_meta (key, value) VALUES ('genesis_hash', ?)", hash); err != nil {
		return "", err
	}
	d.log.Info().Str("genesis", hash).Msg("first boot: chain root created")
	return hash, nil
}

// SnapshotWorld stores every player record, lz4 compressed, chained to the previous day's hash.
// Taking a second snapshot on the same day replaces the first.
func (d *DB) SnapshotWorld(ctx context.Context, now time.Time) (*Snapshot, error) {
	players, err := d.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot query: %w", err)
	}
	if players == nil {
		players = []*types.Player{}
	}
	raw, err := json.Marshal(players)
	if err != nil {
		return nil, err
	}
	compressed, err := core.Compress(raw)
	if err != nil {
		return nil, err
	}

	dayID := now.Unix() / 86400
	prevHash, err := d.previousHash(ctx, dayID)
	if err != nil {
		return nil, err
	}
	finalHash := core.ChainHash(compressed, prevHash)

	_, err = d.q.ExecContext(ctx, "INSERT OR REPLACE INTO daily_snapshots (day_id, state_blob, final_hash) VALUES (?, ?, ?)",
		dayID, compressed, finalHash)
	if err != nil {
		return nil, err
	}
	d.log.Info().Int64("day", dayID).Int("bytes", len(compressed)).Str("hash", finalHash).Msg("snapshot")
	return &Snapshot{DayID: dayID, Size: len(compressed), FinalHash: finalHash}, nil
}

func (d *DB) previousHash(ctx context.Context, dayID int64) (string, error) {
	var prev string
	err := d.q.QueryRowContext(ctx, "SELECT final_hash FROM daily_snapshots WHERE day_id < ? ORDER BY day_id DESC LIMIT 1",
		dayID).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return d.GenesisHash(ctx)
	}
	return prev, err
}

// LoadSnapshot decodes the players stored for a day.
func (d *DB) LoadSnapshot(ctx context.Context, dayID int64) ([]*types.Player, error) {
	var blob []byte
	err := d.q.QueryRowContext(ctx, "SELECT state_blob FROM daily_snapshots WHERE day_id=?", dayID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot day %d: not found", dayID)
	}
	if err != nil {
		return nil, err
	}
	raw, err := core.Decompress(blob)
	if err != nil {
		return nil, err
	}
	var players []*types.Player
	if err := json.Unmarshal(raw, &players); err != nil {
		return nil, err
	}
	return players, nil
}

// VerifyChain recomputes every link and returns the first day whose hash does not match.
func (d *DB) VerifyChain(ctx context.Context) (badDay int64, ok bool, err error) {
	prev, err := d.GenesisHash(ctx)
	if err != nil {
		return 0, false, err
	}
	rows, err := d.q.QueryContext(ctx, "SELECT day_id, state_blob, final_hash FROM daily_snapshots ORDER BY day_id")
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var day int64
		var blob []byte
		var hash string
		if err := rows.Scan(&day, &blob, &hash); err != nil {
			return 0, false, err
		}
		if core.ChainHash(blob, prev) != hash {
			return day, false, nil
		}
		prev = hash
	}
	return 0, true, rows.Err()
}
