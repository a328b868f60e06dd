package game

import (
	"time"

	"outpost/pkg/types"
)

// Remaining reports how long cd still blocks its action. Expired or absent records do not block.
func Remaining(cd *types.Cooldown, now time.Time) (time.Duration, bool) {
	if cd == nil || !cd.FinishTime.After(now) {
		return 0, false
	}
	return cd.FinishTime.Sub(now), true
}

func newCooldown(id int64, kind types.CooldownKind, now time.Time, d time.Duration) *types.Cooldown {
	return &types.Cooldown{PlayerID: id, Kind: kind, FinishTime: now.Add(d)}
}
