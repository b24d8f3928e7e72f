// Package solver implements the CP Solver Adapter (C3) — the only
// package allowed to own the actual constraint-solving algorithm for a
// wave's Model.
//
// No Go constraint-programming backend comparable to CP-SAT appears
// anywhere in the example corpus this module was grounded on (see
// DESIGN.md), and the spec's own non-goals rule out building "a
// general-purpose CP-SAT replacement". This adapter therefore runs a
// deterministic constructive placement (per-lot, per-step, earliest-
// feasible-machine list scheduling) behind the same Status/Result
// contract a real CP-SAT binding would expose, so that swapping in one
// later only touches this package.
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/modelbuilder"
)

// Status mirrors a CP-SAT solve status.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusFeasible
	StatusInfeasible
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "OPTIMAL"
	case StatusFeasible:
		return "FEASIBLE"
	case StatusInfeasible:
		return "INFEASIBLE"
	default:
		return "UNKNOWN"
	}
}

// Assignment is one task's solved (start, end, machine), in minutes
// relative to the model's origin.
type Assignment struct {
	Start   int
	End     int
	Machine string
}

// Result is the solved mapping from TaskKey to Assignment, for every
// task of the model's own lots (LotOrder) regardless of class. Tasks
// carried in from other lots only seed occupancy and get no entry.
type Result struct {
	Status         Status
	Assignments    map[modelbuilder.TaskKey]Assignment
	ObjectiveValue int64
}

// Failure is returned (alongside a nil *Result) when the wave could not
// be solved — the spec's "SolverFailure": recoverable per wave.
type Failure struct {
	Status Status
	Reason string
}

func (f *Failure) Error() string { return fmt.Sprintf("solver: %s: %s", f.Status, f.Reason) }

// Adapter runs the configured solver backend against one Model.
type Adapter struct {
	cfg    config.SolverConfig
	logger zerolog.Logger
}

// New builds an Adapter from the run's solver configuration.
func New(cfg config.SolverConfig, logger zerolog.Logger) *Adapter {
	return &Adapter{cfg: cfg, logger: logger}
}

// Solve invokes the backend on m with the adapter's configured
// max_time_seconds and log_search_progress; num_workers is not used by
// this single-threaded placement. On OPTIMAL or
// FEASIBLE it returns the solved mapping; on UNKNOWN/INFEASIBLE it
// returns a *Failure and a nil *Result.
func (a *Adapter) Solve(ctx context.Context, m *modelbuilder.Model) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.MaxTimeSeconds)*time.Second)
	defer cancel()

	if a.cfg.LogSearchProgress {
		a.logger.Info().Int("lots", len(m.LotOrder)).Int("horizon", m.Horizon).Msg("solver: starting wave")
	}

	occupancy := seedOccupancy(m)
	assignments := make(map[modelbuilder.TaskKey]Assignment, len(m.Tasks))
	lotLastEnd := make(map[string]int, len(m.LotOrder))
	stepEnd := make(map[modelbuilder.TaskKey]int, len(m.Tasks))

	for _, lotID := range m.LotOrder {
		select {
		case <-ctx.Done():
			return nil, &Failure{Status: StatusUnknown, Reason: "solver time budget exceeded"}
		default:
		}

		prevEnd := 0
		for _, step := range m.StepsByLot[lotID] {
			key := modelbuilder.TaskKey{LotID: lotID, Step: step}
			task := m.Tasks[key]

			switch task.Status {
			case modelbuilder.TaskFixed:
				assignments[key] = Assignment{Start: task.FixedStart, End: task.FixedEnd, Machine: task.FixedMachine}
				prevEnd = task.FixedEnd
				stepEnd[key] = task.FixedEnd

			default: // TaskNormal
				lowerBound := task.LowerBound
				if prevEnd > lowerBound {
					lowerBound = prevEnd
				}

				ceiling := -1
				for _, q := range m.QTime {
					if q.LotID == lotID && q.LaterStep == step {
						if earlierEnd, ok := stepEnd[modelbuilder.TaskKey{LotID: lotID, Step: q.EarlierStep}]; ok {
							c := earlierEnd + q.MaxGapMinutes
							if ceiling < 0 || c < ceiling {
								ceiling = c
							}
						}
					}
				}

				bestStart := -1
				bestMachine := ""
				for _, machine := range task.Candidates {
					start := earliestSlot(occupancy[machine], lowerBound, task.Duration)
					if ceiling >= 0 && start > ceiling {
						continue
					}
					if bestStart < 0 || start < bestStart {
						bestStart = start
						bestMachine = machine
					}
				}

				if bestStart < 0 {
					return nil, &Failure{Status: StatusInfeasible,
						Reason: fmt.Sprintf("no feasible machine/time for %s/%s within Q-time ceiling", lotID, step)}
				}
				end := bestStart + task.Duration
				if end > m.Horizon {
					return nil, &Failure{Status: StatusInfeasible,
						Reason: fmt.Sprintf("%s/%s would exceed horizon (%d > %d)", lotID, step, end, m.Horizon)}
				}

				assignments[key] = Assignment{Start: bestStart, End: end, Machine: bestMachine}
				occupancy[bestMachine] = append(occupancy[bestMachine], modelbuilder.Window{Start: bestStart, End: end})
				prevEnd = end
				stepEnd[key] = end
			}
		}
		lotLastEnd[lotID] = prevEnd
	}

	status := StatusFeasible
	if m.Objective.Kind != "" {
		status = StatusOptimal
	}

	return &Result{
		Status:         status,
		Assignments:    assignments,
		ObjectiveValue: computeObjective(m, lotLastEnd),
	}, nil
}

// seedOccupancy collects every fixed-class machine occupancy (skipping
// zero-length sentinels) plus every active unavailability window, per
// machine — the initial state every Normal placement must avoid.
func seedOccupancy(m *modelbuilder.Model) map[string][]modelbuilder.Window {
	occupancy := make(map[string][]modelbuilder.Window)
	for machine, windows := range m.Unavailability {
		occupancy[machine] = append(occupancy[machine], windows...)
	}
	for _, task := range m.Tasks {
		if task.Status != modelbuilder.TaskFixed {
			continue
		}
		if task.FixedMachine == "" || task.FixedEnd <= task.FixedStart {
			continue // zero-length sentinel: contributes no occupancy
		}
		occupancy[task.FixedMachine] = append(occupancy[task.FixedMachine], modelbuilder.Window{Start: task.FixedStart, End: task.FixedEnd})
	}
	return occupancy
}

// earliestSlot finds the smallest start >= lowerBound such that
// [start, start+duration) overlaps none of windows. Re-scans to a
// fixed point so windows need not be pre-sorted or mutually disjoint.
func earliestSlot(windows []modelbuilder.Window, lowerBound, duration int) int {
	start := lowerBound
	for {
		moved := false
		for _, w := range windows {
			if start < w.End && start+duration > w.Start {
				start = w.End
				moved = true
			}
		}
		if !moved {
			return start
		}
	}
}

// computeObjective reports the wave's achieved objective value for
// instrumentation; it does not feed back into placement (§1: this
// adapter trades optimality for tractability, matching the spec's
// explicit non-goal of an exact-optimal solver at scale).
func computeObjective(m *modelbuilder.Model, lotLastEnd map[string]int) int64 {
	switch m.Objective.Kind {
	case config.ObjectiveMakespan:
		var max int64
		for _, end := range lotLastEnd {
			if int64(end) > max {
				max = int64(end)
			}
		}
		return max
	case config.ObjectiveTotalCompletionTime:
		var sum int64
		for _, end := range lotLastEnd {
			sum += int64(end)
		}
		return sum
	case config.ObjectiveWeightedDelay:
		var makespan int64
		var delaySum int64
		for lotID, end := range lotLastEnd {
			if int64(end) > makespan {
				makespan = int64(end)
			}
			due, hasDue := m.Objective.DueDateMinutes[lotID]
			if !hasDue {
				continue
			}
			delay := end - due
			if delay < 0 {
				delay = 0
			}
			priority := m.Objective.Priority[lotID]
			delaySum += int64(delay) * int64(priority) * int64(m.Objective.DelayWeight)
		}
		return delaySum + makespan*int64(m.Objective.MakespanWeight)
	default:
		return 0
	}
}
