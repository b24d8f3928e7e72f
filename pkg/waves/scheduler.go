// Package waves implements the Wave Scheduler (C4): it partitions lots
// into waves, drives C2 (model build) and C3 (solve) per wave, carries
// solved intervals forward as fixed context, and is the only component
// that emits progress.
package waves

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/modelbuilder"
	"github.com/foundrypath/waveplan/pkg/solver"
	"github.com/foundrypath/waveplan/pkg/types"
)

// ProgressFunc receives one human-readable progress line per wave, plus a
// final 100% line after the last wave. The
// Wave Scheduler never blocks on it — see pkg/progress for the
// non-blocking bridge to external subscribers.
type ProgressFunc func(message string, waveIndex, waveCount int, percent float64)

// Result is what C4 hands to C5/C6/C7: the fully solved set of tasks
// (any class) across every wave that produced a result, plus run
// counters for the job-history row.
type Result struct {
	Solved       map[modelbuilder.TaskKey]types.SolvedTask
	WavesRun     int
	WaveFailures int
}

// Scheduler is the C4 orchestrator.
type Scheduler struct {
	cfg      *config.Config
	solver   *solver.Adapter
	logger   zerolog.Logger
	progress ProgressFunc
}

// New builds a Scheduler. progress may be nil to disable emission.
func New(cfg *config.Config, adapter *solver.Adapter, logger zerolog.Logger, progress ProgressFunc) *Scheduler {
	if progress == nil {
		progress = func(string, int, int, float64) {}
	}
	return &Scheduler{cfg: cfg, solver: adapter, logger: logger, progress: progress}
}

// Batch partitions lots per §4.4's policy. Lot order is preserved
// exactly as received (natural LotId ordering from the loader) — no
// re-sorting by priority or due date happens here.
func Batch(lots []*types.Lot, batch config.BatchConfig) [][]*types.Lot {
	if len(lots) <= batch.Threshold {
		if len(lots) == 0 {
			return nil
		}
		return [][]*types.Lot{lots}
	}

	initial := batch.InitialSize
	if initial > len(lots) {
		initial = len(lots)
	}
	waves := [][]*types.Lot{lots[:initial]}

	step := batch.StepSize
	if step <= 0 {
		step = 1
	}
	for i := initial; i < len(lots); i += step {
		end := i + step
		if end > len(lots) {
			end = len(lots)
		}
		waves = append(waves, lots[i:end])
	}
	return waves
}

// Run drives the end-to-end wave pipeline: for each wave, build a fresh
// model embedding every prior wave's solved tasks as fixed intervals,
// solve it, and fold newly solved tasks into the carry-map. A failed
// wave is logged and skipped; its tasks never enter the carry-map, so
// later waves see only successfully solved intervals (§4.4 step 4).
func (s *Scheduler) Run(ctx context.Context, lots []*types.Lot, machineGroups map[string][]string, unavailable map[string][]types.UnavailablePeriod, origin time.Time) (*Result, error) {
	waves := Batch(lots, s.cfg.Batch)
	result := &Result{Solved: make(map[modelbuilder.TaskKey]types.SolvedTask)}

	// carry-map: owned exclusively by this method, mutated only between
	// waves (§5) — never read concurrently.
	fixed := make(modelbuilder.FixedContext)

	for i, wave := range waves {
		pct := float64(i) / float64(len(waves)) * 100
		s.progress(fmt.Sprintf("Batch %d/%d … Progress %.0f%%", i+1, len(waves), pct), i, len(waves), pct)

		model, err := modelbuilder.Build(wave, fixed, machineGroups, unavailable, origin, s.cfg)
		if err != nil {
			return nil, fmt.Errorf("waves: build model for wave %d: %w", i, err)
		}

		solved, err := s.solver.Solve(ctx, model)
		result.WavesRun++
		if err != nil {
			result.WaveFailures++
			s.logger.Warn().Int("wave", i).Err(err).Msg("wave solve failed, carry-map left unchanged")
			continue
		}

		for key, assignment := range solved.Assignments {
			task := model.Tasks[key]
			solvedTask := types.SolvedTask{
				LotID:     key.LotID,
				Step:      key.Step,
				Class:     task.Class,
				MachineID: assignment.Machine,
				Start:     origin.Add(time.Duration(assignment.Start) * time.Minute),
				End:       origin.Add(time.Duration(assignment.End) * time.Minute),
				Duration:  assignment.End - assignment.Start,
			}
			result.Solved[key] = solvedTask
			fixed[key] = solvedTask
		}
	}

	s.progress(fmt.Sprintf("Batch %d/%d … Progress 100%%", len(waves), len(waves)), len(waves), len(waves), 100)
	return result, nil
}
