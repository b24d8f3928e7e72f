// Package artifacts implements the Artifact Emitter (C7): it renders a
// run's solved tasks into the three JSON documents external tooling
// consumes, and persists the run's job-history row.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/pkg/modelbuilder"
	"github.com/foundrypath/waveplan/pkg/store"
	"github.com/foundrypath/waveplan/pkg/types"
)

// Booking is the display category a StepResult entry is tagged with,
// derived from the operation's class and (for Normal ops) whether the
// lot previously carried a plan.
type Booking string

const (
	BookingCompleted   Booking = "Completed"
	BookingWIP         Booking = "WIP"
	BookingFrozen      Booking = "Frozen"
	BookingRescheduled Booking = "Rescheduled"
	BookingNew         Booking = "New"
)

// StepResult is one row of the step-results artifact.
type StepResult struct {
	LotID    string    `json:"LotId"`
	Priority int       `json:"Priority"`
	StepIdx  int       `json:"StepIdx"`
	Step     string    `json:"Step"`
	Machine  string    `json:"Machine"`
	Start    time.Time `json:"Start"`
	End      time.Time `json:"End"`
	Booking  Booking   `json:"Booking"`
}

// LotResult is one row of the plan-result artifact's lot_results list.
type LotResult struct {
	LotID          string     `json:"LotId"`
	Priority       int        `json:"Priority"`
	DueDate        *time.Time `json:"DueDate,omitempty"`
	PlanFinishDate *time.Time `json:"PlanFinishDate,omitempty"`
	Delay          string     `json:"delay"`
}

// Statistics summarizes a run's timing and counts.
type Statistics struct {
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMS   int64     `json:"duration_ms"`
	LotCount     int       `json:"lot_count"`
	WavesRun     int       `json:"waves_run"`
	WaveFailures int       `json:"wave_failures"`
}

// PlanResult is the full plan-result artifact.
type PlanResult struct {
	Statistics Statistics  `json:"statistics"`
	LotResults []LotResult `json:"lot_results"`
}

// MachineTaskSegment is one row of the flat Gantt-ready segment list: a
// machine header record (Parent == nil) or a child task/unavailability
// record (Parent == &MachineId).
type MachineTaskSegment struct {
	MachineID string     `json:"MachineId"`
	Parent    *string    `json:"Parent"`
	Label     string     `json:"Label,omitempty"`
	Start     *time.Time `json:"Start,omitempty"`
	End       *time.Time `json:"End,omitempty"`
}

// RunSummary is what pkg/engine hands in after a full C1→C6 pass.
type RunSummary struct {
	ScheduleID   string
	StartedAt    time.Time
	CompletedAt  time.Time
	WavesRun     int
	WaveFailures int
	Lots         []*types.Lot
	Solved       map[modelbuilder.TaskKey]types.SolvedTask
	Unavailable  map[string][]types.UnavailablePeriod
}

// Emitter is the C7 Artifact Emitter.
type Emitter struct {
	dir        string
	jobHistory *store.JobHistoryRepository
	logger     zerolog.Logger
}

// New builds an Emitter that writes artifacts under dir.
func New(dir string, jobHistory *store.JobHistoryRepository, logger zerolog.Logger) *Emitter {
	return &Emitter{dir: dir, jobHistory: jobHistory, logger: logger}
}

// Emit writes step_results.json, plan_result.json, and
// machine_task_segments.json under the emitter's directory (named
// {ScheduleId}_*.json) and inserts the run's job-history row.
func (e *Emitter) Emit(ctx context.Context, run RunSummary) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: create dir %s: %w", e.dir, err)
	}

	steps := buildStepResults(run)
	if err := e.writeJSON(run.ScheduleID, "step_results", steps); err != nil {
		return err
	}

	plan := buildPlanResult(run)
	if err := e.writeJSON(run.ScheduleID, "plan_result", plan); err != nil {
		return err
	}

	segments := buildMachineTaskSegments(run)
	if err := e.writeJSON(run.ScheduleID, "machine_task_segments", segments); err != nil {
		return err
	}

	row := store.JobHistoryRow{
		ScheduleID:     run.ScheduleID,
		StartTime:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		LotsScheduled:  len(run.Lots),
		WavesRun:       run.WavesRun,
		WaveFailures:   run.WaveFailures,
		PartialSuccess: run.WaveFailures > 0,
	}
	if err := e.jobHistory.Insert(ctx, row); err != nil {
		return fmt.Errorf("artifacts: insert job history: %w", err)
	}

	e.logger.Info().Str("schedule_id", run.ScheduleID).Int("steps", len(steps)).Msg("artifacts: emitted")
	return nil
}

func (e *Emitter) writeJSON(scheduleID, name string, v interface{}) error {
	path := filepath.Join(e.dir, fmt.Sprintf("%s_%s.json", scheduleID, name))
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write %s: %w", path, err)
	}
	return nil
}

func buildStepResults(run RunSummary) []StepResult {
	var out []StepResult
	for _, lot := range run.Lots {
		for idx, op := range lot.Operations {
			key := modelbuilder.TaskKey{LotID: lot.LotID, Step: op.Step}
			task, ok := run.Solved[key]
			if !ok {
				continue
			}
			out = append(out, StepResult{
				LotID:    lot.LotID,
				Priority: lot.Priority,
				StepIdx:  idx + 1,
				Step:     op.Step,
				Machine:  task.MachineID,
				Start:    task.Start,
				End:      task.End,
				Booking:  bookingFor(op, task),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LotID != out[j].LotID {
			return out[i].LotID < out[j].LotID
		}
		return out[i].StepIdx < out[j].StepIdx
	})
	return out
}

func bookingFor(op *types.Operation, task types.SolvedTask) Booking {
	switch task.Class {
	case types.ClassCompleted:
		return BookingCompleted
	case types.ClassWIP:
		return BookingWIP
	case types.ClassFrozen:
		return BookingFrozen
	default:
		if op.HadPriorPlan() {
			return BookingRescheduled
		}
		return BookingNew
	}
}

func buildPlanResult(run RunSummary) PlanResult {
	lotResults := make([]LotResult, 0, len(run.Lots))
	for _, lot := range run.Lots {
		finish := lotFinish(lot, run.Solved)
		delay := "on-time"
		if lot.DueDate != nil && finish != nil {
			d := finish.Sub(*lot.DueDate)
			if d > 0 {
				delay = fmt.Sprintf("+%s", d.Round(time.Minute))
			}
		}
		lotResults = append(lotResults, LotResult{
			LotID:          lot.LotID,
			Priority:       lot.Priority,
			DueDate:        lot.DueDate,
			PlanFinishDate: finish,
			Delay:          delay,
		})
	}
	sort.Slice(lotResults, func(i, j int) bool { return lotResults[i].LotID < lotResults[j].LotID })

	return PlanResult{
		Statistics: Statistics{
			StartedAt:    run.StartedAt,
			CompletedAt:  run.CompletedAt,
			DurationMS:   run.CompletedAt.Sub(run.StartedAt).Milliseconds(),
			LotCount:     len(run.Lots),
			WavesRun:     run.WavesRun,
			WaveFailures: run.WaveFailures,
		},
		LotResults: lotResults,
	}
}

func lotFinish(lot *types.Lot, solved map[modelbuilder.TaskKey]types.SolvedTask) *time.Time {
	var max time.Time
	found := false
	for _, op := range lot.Operations {
		task, ok := solved[modelbuilder.TaskKey{LotID: lot.LotID, Step: op.Step}]
		if !ok {
			continue
		}
		if !found || task.End.After(max) {
			max = task.End
			found = true
		}
	}
	if !found {
		return nil
	}
	return &max
}

func buildMachineTaskSegments(run RunSummary) []MachineTaskSegment {
	byMachine := make(map[string][]MachineTaskSegment)

	for _, task := range run.Solved {
		if task.MachineID == "" || !task.End.After(task.Start) {
			continue
		}
		start, end := task.Start, task.End
		byMachine[task.MachineID] = append(byMachine[task.MachineID], MachineTaskSegment{
			MachineID: task.MachineID,
			Parent:    strPtr(task.MachineID),
			Label:     fmt.Sprintf("%s/%s", task.LotID, task.Step),
			Start:     &start,
			End:       &end,
		})
	}
	for machineID, periods := range run.Unavailable {
		for _, p := range periods {
			if p.Status != types.UnavailabilityStatusActive {
				continue
			}
			start, end := p.Start, p.End
			byMachine[machineID] = append(byMachine[machineID], MachineTaskSegment{
				MachineID: machineID,
				Parent:    strPtr(machineID),
				Label:     fmt.Sprintf("unavailable:%s", p.Type),
				Start:     &start,
				End:       &end,
			})
		}
	}

	machineIDs := make([]string, 0, len(byMachine))
	for id := range byMachine {
		machineIDs = append(machineIDs, id)
	}
	sort.Strings(machineIDs)

	var out []MachineTaskSegment
	for _, id := range machineIDs {
		out = append(out, MachineTaskSegment{MachineID: id, Parent: nil})
		children := byMachine[id]
		sort.Slice(children, func(i, j int) bool { return children[i].Start.Before(*children[j].Start) })
		out = append(out, children...)
	}
	return out
}

func strPtr(s string) *string { return &s }
