package main

import (
	"context"
	"time"

	"outpost/pkg/types"
)

// --- Background Loops ---
// Game state advances lazily on access; the loops here only snapshot the world and
// announce finished bonus cooldowns.

func runSnapshotLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := db.SnapshotWorld(ctx, engine.Now()); err != nil {
				Log.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

func runBonusScanner(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanBonusCooldowns(ctx)
		}
	}
}

// scanBonusCooldowns announces every bonus cooldown that has run out. A cooldown is
// marked notified even when delivery fails so offline players are not retried forever.
func scanBonusCooldowns(ctx context.Context) int {
	now := engine.Now()
	due, err := db.DueCooldowns(ctx, types.CooldownBonus, now)
	if err != nil {
		Log.Error().Err(err).Msg("bonus scan failed")
		return 0
	}
	for _, cd := range due {
		ev := types.Event{Kind: types.EventBonusReady, PlayerID: cd.PlayerID, At: now}
		if err := notifier.Notify(ctx, ev); err != nil {
			Log.Debug().Err(err).Int64("player", cd.PlayerID).Msg("bonus ready not delivered")
		}
		if err := db.MarkNotified(ctx, cd); err != nil {
			Log.Error().Err(err).Int64("player", cd.PlayerID).Msg("mark notified failed")
		}
	}
	return len(due)
}

// --- Announcements ---

// broadcast sends an operator announcement to every registered player.
func broadcast(ctx context.Context, message string) (delivered, failed int, err error) {
	players, err := db.ListPlayers(ctx)
	if err != nil {
		return 0, 0, err
	}
	now := engine.Now()
	for _, p := range players {
		ev := types.Event{Kind: types.EventBroadcast, PlayerID: p.ID, Message: message, At: now}
		if err := notifier.Notify(ctx, ev); err != nil {
			Log.Warn().Err(err).Int64("player", p.ID).Msg("broadcast not delivered")
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed, nil
}
