// Package writer implements the Result Writer (C5): it chunks solved
// tasks by lot, then persists each chunk on its own dedicated store
// connection, in parallel, bounded by a worker pool.
package writer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/modelbuilder"
	"github.com/foundrypath/waveplan/pkg/store"
	"github.com/foundrypath/waveplan/pkg/types"
)

// Error wraps any chunk failure as a fatal WriterError per spec §7: a
// partial write is never left in an ambiguous state because each chunk
// commits atomically or not at all (§4.5).
type Error struct {
	LotIDs []string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("writer: chunk %v: %v", e.LotIDs, e.Cause)
}
func (e *Error) Unwrap() error { return e.Cause }

// Writer is the C5 Result Writer.
type Writer struct {
	store  *store.Manager
	cfg    config.WriterConfig
	logger zerolog.Logger
}

// New builds a Writer against the given store manager.
func New(mgr *store.Manager, cfg config.WriterConfig, logger zerolog.Logger) *Writer {
	return &Writer{store: mgr, cfg: cfg, logger: logger}
}

// chunk is one contiguous group of lots' solved tasks, the unit a
// single worker commits in one transaction.
type chunk struct {
	lotIDs []string
	ops    []store.OperationUpdate
	lots   []store.LotUpdate
}

// Write chunks solved (keyed by LotID/Step) into groups of at most
// cfg.ChunkSize lots each, then drains them through a worker pool sized
// min(len(chunks), cfg.PoolSize) — each worker opening its own
// connection and transaction via Manager.WithConnTransaction (§4.5: no
// connection is shared across workers). planID stamps every operation's
// new PlanHistoryEntry.
func (w *Writer) Write(ctx context.Context, solved map[modelbuilder.TaskKey]types.SolvedTask, lots []*types.Lot, planID string, now time.Time) error {
	chunks := w.buildChunks(solved, lots, planID, now)
	if len(chunks) == 0 {
		return nil
	}

	poolSize := w.cfg.PoolSize
	if poolSize > len(chunks) {
		poolSize = len(chunks)
	}
	if poolSize < 1 {
		poolSize = 1
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(poolSize)

	for _, c := range chunks {
		c := c
		group.Go(func() error {
			return w.store.WithConnTransaction(gctx, func(tx *sqlx.Tx) error {
				return w.store.Plans.ApplyChunk(gctx, tx, c.ops, c.lots)
			})
		})
	}

	if err := group.Wait(); err != nil {
		return &Error{Cause: err}
	}
	w.logger.Info().Int("chunks", len(chunks)).Int("lots", len(lots)).Msg("writer: all chunks committed")
	return nil
}

// buildChunks groups solved tasks by lot, in groups of ChunkSize lots,
// preserving the lot's natural order so chunk boundaries are
// deterministic across runs.
func (w *Writer) buildChunks(solved map[modelbuilder.TaskKey]types.SolvedTask, lots []*types.Lot, planID string, now time.Time) []chunk {
	size := w.cfg.ChunkSize
	if size < 1 {
		size = 1
	}

	var chunks []chunk
	for i := 0; i < len(lots); i += size {
		end := i + size
		if end > len(lots) {
			end = len(lots)
		}
		group := lots[i:end]

		c := chunk{}
		for _, lot := range group {
			c.lotIDs = append(c.lotIDs, lot.LotID)

			var maxEnd time.Time
			var minStart time.Time
			haveAny := false

			for _, op := range lot.Operations {
				key := modelbuilder.TaskKey{LotID: lot.LotID, Step: op.Step}
				task, ok := solved[key]
				if !ok || task.Class != types.ClassNormal {
					continue // fixed-class tasks are not rewritten (§4.5)
				}

				c.ops = append(c.ops, store.OperationUpdate{
					LotID:   lot.LotID,
					Step:    op.Step,
					Start:   task.Start,
					End:     task.End,
					Machine: task.MachineID,
					History: types.PlanHistoryEntry{
						PlanID:           planID,
						PlanCheckInTime:  task.Start,
						PlanCheckOutTime: task.End,
						PlanMachineID:    task.MachineID,
						CreatedAt:        now,
					},
				})

				if !haveAny || task.Start.Before(minStart) {
					minStart = task.Start
				}
				if !haveAny || task.End.After(maxEnd) {
					maxEnd = task.End
				}
				haveAny = true
			}

			if !haveAny {
				continue
			}
			var delayDays *float64
			if lot.DueDate != nil {
				d := math.Round(maxEnd.Sub(*lot.DueDate).Hours()/24*100) / 100
				if d < 0 {
					d = 0
				}
				delayDays = &d
			}
			c.lots = append(c.lots, store.LotUpdate{
				LotID:          lot.LotID,
				PlanStartTime:  minStart,
				PlanFinishDate: maxEnd,
				DelayDays:      delayDays,
			})
		}

		if len(c.ops) > 0 || len(c.lots) > 0 {
			chunks = append(chunks, c)
		}
	}

	sort.Slice(chunks, func(i, j int) bool {
		if len(chunks[i].lotIDs) == 0 || len(chunks[j].lotIDs) == 0 {
			return false
		}
		return chunks[i].lotIDs[0] < chunks[j].lotIDs[0]
	})
	return chunks
}
