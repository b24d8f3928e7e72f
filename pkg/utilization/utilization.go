// Package utilization implements the Utilization Reporter (C6): it
// derives per-machine-group occupancy from a run's solved tasks and
// persists one row per group.
package utilization

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/pkg/modelbuilder"
	"github.com/foundrypath/waveplan/pkg/store"
	"github.com/foundrypath/waveplan/pkg/types"
)

// Reporter is the C6 Utilization Reporter.
type Reporter struct {
	repo   *store.UtilizationRepository
	logger zerolog.Logger
}

// New builds a Reporter against the given repository.
func New(repo *store.UtilizationRepository, logger zerolog.Logger) *Reporter {
	return &Reporter{repo: repo, logger: logger}
}

// Report computes, for every machine group, the minutes its members were
// occupied and the group's raw capacity (member count * length of the
// run's global window, [earliest solved start, latest solved end) across
// every solved task) — then persists one row per group
// that had at least one solved task (§4.6: a group with no activity in
// this run contributes no row, not a zero row).
func (r *Reporter) Report(ctx context.Context, scheduleID, planID string, machineGroups map[string][]string, solved map[modelbuilder.TaskKey]types.SolvedTask) error {
	rows := computeUtilizationRows(scheduleID, planID, machineGroups, solved)

	if err := r.repo.InsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("utilization: persist %d rows: %w", len(rows), err)
	}
	r.logger.Info().Int("groups", len(rows)).Msg("utilization: reported")
	return nil
}

// computeUtilizationRows is the pure aggregation at the heart of Report,
// split out so it can be exercised without a live repository. Capacity
// is computed against a single global window — [earliest solved start,
// latest solved end) across every task in the run, regardless of
// group — so a group active only in a narrow slice of the schedule
// doesn't read as fully utilized (§4.6).
func computeUtilizationRows(scheduleID, planID string, machineGroups map[string][]string, solved map[modelbuilder.TaskKey]types.SolvedTask) []store.UtilizationRow {
	memberOf := make(map[string]string, len(machineGroups))
	for group, members := range machineGroups {
		for _, m := range members {
			memberOf[m] = group
		}
	}

	var globalStart, globalEnd time.Time
	var hasGlobalSpan bool
	usedByGroup := make(map[string]time.Duration)

	for _, task := range solved {
		if task.MachineID == "" || !task.End.After(task.Start) {
			continue // zero-length sentinel: contributes no occupancy
		}
		if !hasGlobalSpan || task.Start.Before(globalStart) {
			globalStart = task.Start
		}
		if !hasGlobalSpan || task.End.After(globalEnd) {
			globalEnd = task.End
		}
		hasGlobalSpan = true

		group, ok := memberOf[task.MachineID]
		if !ok {
			continue
		}
		usedByGroup[group] += task.End.Sub(task.Start)
	}

	if !hasGlobalSpan {
		return nil
	}
	windowMinutes := globalEnd.Sub(globalStart).Minutes()

	var rows []store.UtilizationRow
	for group, used := range usedByGroup {
		memberCount := len(machineGroups[group])
		if memberCount == 0 {
			memberCount = 1
		}
		capacityMinutes := windowMinutes * float64(memberCount)
		usedMinutes := used.Minutes()

		var utilizationRatio float64
		if capacityMinutes > 0 {
			utilizationRatio = usedMinutes / capacityMinutes
		}

		rows = append(rows, store.UtilizationRow{
			ScheduleID:      scheduleID,
			PlanID:          planID,
			GroupID:         group,
			WindowStart:     globalStart,
			WindowEnd:       globalEnd,
			UsedMinutes:     usedMinutes,
			CapacityMinutes: capacityMinutes,
			Utilization:     utilizationRatio,
		})
	}
	return rows
}
