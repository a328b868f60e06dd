package game

import (
	"fmt"
	"time"

	"outpost/pkg/types"
)

// AdvanceTraining drains every unit whose finish time has passed into the reserve army.
// The per-unit interval is read from the current barracks level, so an upgrade landing
// mid-batch speeds up the remaining units. Returns the number of units completed; the job
// is left with QuantityRemaining == 0 once drained.
func AdvanceTraining(p *types.Player, job *types.TrainingJob, now time.Time, t *Tables) (int, error) {
	if job == nil || job.QuantityRemaining <= 0 {
		return 0, nil
	}
	if _, ok := t.Units[job.Unit]; !ok {
		return 0, fmt.Errorf("%w: training job for player %d names unknown unit %q",
			ErrDataIntegrity, p.ID, job.Unit)
	}
	perUnit := t.TrainingTime(p.Buildings[BuildingBarracks])
	completed := 0
	for job.QuantityRemaining > 0 && !now.Before(job.NextUnitFinishTime) {
		completed++
		job.QuantityRemaining--
		job.NextUnitFinishTime = job.NextUnitFinishTime.Add(perUnit)
	}
	if completed > 0 {
		if p.Army.Reserve == nil {
			p.Army.Reserve = map[string]int{}
		}
		p.Army.Reserve[job.Unit] += completed
	}
	return completed, nil
}

// TrainingTimeLeft estimates how long until the whole batch is done at the current pace.
func TrainingTimeLeft(p *types.Player, job *types.TrainingJob, now time.Time, t *Tables) time.Duration {
	if job == nil || job.QuantityRemaining <= 0 {
		return 0
	}
	left := job.NextUnitFinishTime.Sub(now)
	if left < 0 {
		left = 0
	}
	return left + time.Duration(job.QuantityRemaining-1)*t.TrainingTime(p.Buildings[BuildingBarracks])
}
