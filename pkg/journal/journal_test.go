package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"outpost/pkg/types"
)

func TestJournalRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	j := New(dir, "events")
	at := time.Date(2024, 6, 1, 10, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return at }

	ctx := context.Background()
	j.Notify(ctx, types.Event{Kind: types.EventAttackReceived, PlayerID: 2, ReportID: 9, At: at})
	j.Notify(ctx, types.Event{Kind: types.EventTrainingComplete, PlayerID: 1, Unit: "soldier", Quantity: 4, At: at})
	at = at.Add(2 * time.Minute)
	j.Notify(ctx, types.Event{Kind: types.EventBonusReady, PlayerID: 3, At: at})
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	first, err := ReadEvents(filepath.Join(dir, "events-2024-06-01-10.jsonl.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].ReportID != 9 || first[1].Quantity != 4 {
		t.Errorf("unexpected first hour: %+v", first)
	}
	second, err := ReadEvents(filepath.Join(dir, "events-2024-06-01-11.jsonl.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].Kind != types.EventBonusReady {
		t.Errorf("unexpected second hour: %+v", second)
	}
}
