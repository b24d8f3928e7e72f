// Package engine wires C1 through C7 (plus the optional C9 progress
// bridge) into the single end-to-end run the CLI drives.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/artifacts"
	"github.com/foundrypath/waveplan/pkg/loader"
	"github.com/foundrypath/waveplan/pkg/progress"
	"github.com/foundrypath/waveplan/pkg/solver"
	"github.com/foundrypath/waveplan/pkg/store"
	"github.com/foundrypath/waveplan/pkg/utilization"
	"github.com/foundrypath/waveplan/pkg/waves"
	"github.com/foundrypath/waveplan/pkg/writer"
)

// Engine is the top-level orchestrator for one run of the scheduling
// pipeline.
type Engine struct {
	cfg         *config.Config
	store       *store.Manager
	logger      zerolog.Logger
	broadcaster *progress.Broadcaster
}

// New builds an Engine against an already-open store connection. The
// broadcaster may be nil to disable progress publication entirely.
func New(cfg *config.Config, mgr *store.Manager, broadcaster *progress.Broadcaster, logger zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, store: mgr, logger: logger, broadcaster: broadcaster}
}

// Summary is the run's final outcome, returned to the CLI for exit-code
// selection.
type Summary struct {
	ScheduleID   string
	LotsLoaded   int
	WavesRun     int
	WaveFailures int
	Duration     time.Duration
}

// Run executes one full C1→C7 pass with origin as SCHEDULE_START.
func (e *Engine) Run(ctx context.Context, origin time.Time) (*Summary, error) {
	scheduleID := store.NewPlanID()
	startedAt := time.Now()
	e.logger.Info().Str("schedule_id", scheduleID).Time("origin", origin).Msg("engine: run starting")

	ld := loader.New(e.store.Lots, e.store.Machines, e.store.Unavailable, e.logger)

	lots, err := ld.LoadJobs(ctx, e.cfg.ExcludeCompletedLots)
	if err != nil {
		return nil, fmt.Errorf("engine: load jobs: %w", err)
	}
	machineGroups, err := ld.LoadMachineGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: load machine groups: %w", err)
	}
	unavailable, err := ld.LoadUnavailablePeriods(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("engine: load unavailable periods: %w", err)
	}

	adapter := solver.New(e.cfg.Solver, e.logger)
	scheduler := waves.New(e.cfg, adapter, e.logger, e.progressFunc(scheduleID))

	waveResult, err := scheduler.Run(ctx, lots, machineGroups, unavailable, origin)
	if err != nil {
		return nil, fmt.Errorf("engine: wave scheduling: %w", err)
	}

	w := writer.New(e.store, e.cfg.Writer, e.logger)
	if err := w.Write(ctx, waveResult.Solved, lots, scheduleID, time.Now()); err != nil {
		return nil, fmt.Errorf("engine: writeback: %w", err)
	}

	reporter := utilization.New(e.store.Utilization, e.logger)
	if err := reporter.Report(ctx, scheduleID, scheduleID, machineGroups, waveResult.Solved); err != nil {
		return nil, fmt.Errorf("engine: utilization report: %w", err)
	}

	completedAt := time.Now()
	emitter := artifacts.New(e.cfg.ArtifactsDir, e.store.JobHistory, e.logger)
	run := artifacts.RunSummary{
		ScheduleID:   scheduleID,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		WavesRun:     waveResult.WavesRun,
		WaveFailures: waveResult.WaveFailures,
		Lots:         lots,
		Solved:       waveResult.Solved,
		Unavailable:  unavailable,
	}
	if err := emitter.Emit(ctx, run); err != nil {
		return nil, fmt.Errorf("engine: artifact emission: %w", err)
	}

	if e.broadcaster != nil {
		e.broadcaster.Publish(progress.Message{
			ScheduleID: scheduleID,
			Text:       "run complete",
			WaveCount:  waveResult.WavesRun,
			WaveIndex:  waveResult.WavesRun,
			Percent:    100,
			Done:       true,
		})
	}

	e.logger.Info().Str("schedule_id", scheduleID).Dur("duration", completedAt.Sub(startedAt)).
		Int("lots", len(lots)).Int("waves", waveResult.WavesRun).Int("failures", waveResult.WaveFailures).
		Msg("engine: run complete")

	return &Summary{
		ScheduleID:   scheduleID,
		LotsLoaded:   len(lots),
		WavesRun:     waveResult.WavesRun,
		WaveFailures: waveResult.WaveFailures,
		Duration:     completedAt.Sub(startedAt),
	}, nil
}

func (e *Engine) progressFunc(scheduleID string) waves.ProgressFunc {
	if e.broadcaster == nil {
		return nil
	}
	return func(message string, waveIndex, waveCount int, percent float64) {
		e.broadcaster.Publish(progress.Message{
			ScheduleID: scheduleID,
			Text:       message,
			WaveIndex:  waveIndex,
			WaveCount:  waveCount,
			Percent:    percent,
		})
	}
}
