// Package loader implements the Data Loader (C1): it produces the
// engine's in-memory working set from the store in a single pass per
// run and classifies every operation as Completed/WIP/Frozen/Normal.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/pkg/store"
	"github.com/foundrypath/waveplan/pkg/types"
)

// FallbackMachineGroups is the deployment-configured fallback returned
// by LoadMachineGroups when the store has no active machines — this
// preserves developer ergonomics against an empty database (§4.1).
var FallbackMachineGroups = map[string][]string{
	"DEFAULT": {"DEFAULT-M1"},
}

// Loader is the C1 Data Loader.
type Loader struct {
	lots        *store.LotRepository
	machines    *store.MachineRepository
	unavailable *store.UnavailabilityRepository
	logger      zerolog.Logger
}

// New builds a Loader against the given repositories.
func New(lots *store.LotRepository, machines *store.MachineRepository, unavailable *store.UnavailabilityRepository, logger zerolog.Logger) *Loader {
	return &Loader{lots: lots, machines: machines, unavailable: unavailable, logger: logger}
}

// LoadJobsError wraps any failure reading from the store as a fatal
// LoaderError per spec §7.
type LoadJobsError struct {
	Cause error
}

func (e *LoadJobsError) Error() string { return fmt.Sprintf("loader: %v", e.Cause) }
func (e *LoadJobsError) Unwrap() error { return e.Cause }

// LoadJobs reads lots (optionally filtering out those with
// ActualFinishDate set), their operations ordered by Sequence, and
// merges in their Frozen entries. Classification itself is derived
// lazily by types.Operation.Class() from the fields populated here.
func (l *Loader) LoadJobs(ctx context.Context, excludeCompletedLots bool) ([]*types.Lot, error) {
	lotRows, err := l.lots.ListLots(ctx, excludeCompletedLots)
	if err != nil {
		return nil, &LoadJobsError{Cause: err}
	}

	lots := make([]*types.Lot, 0, len(lotRows))
	for _, lr := range lotRows {
		lot := &types.Lot{
			LotID:            lr.LotID,
			Priority:         lr.Priority,
			DueDate:          lr.DueDate,
			ActualFinishDate: lr.ActualFinishDate,
			PlanStartTime:    lr.PlanStartTime,
			LotCreateDate:    lr.LotCreateDate,
			PlanFinishDate:   lr.PlanFinishDate,
			DelayDays:        lr.DelayDays,
		}

		opRows, err := l.lots.OperationsForLot(ctx, lr.LotID)
		if err != nil {
			return nil, &LoadJobsError{Cause: err}
		}
		ops := make([]*types.Operation, 0, len(opRows))
		for i := range opRows {
			ops = append(ops, opRows[i].ToDomain())
		}

		frozenRows, err := l.lots.FrozenForLot(ctx, lr.LotID)
		if err != nil {
			return nil, &LoadJobsError{Cause: err}
		}
		frozenByStep := make(map[string]*types.FrozenInterval, len(frozenRows))
		for _, fr := range frozenRows {
			frozenByStep[fr.Step] = &types.FrozenInterval{MachineID: fr.MachineID, Start: fr.Start, End: fr.End}
		}
		for _, op := range ops {
			if fi, ok := frozenByStep[op.Step]; ok {
				op.Frozen = fi
			}
		}

		lot.Operations = ops
		lots = append(lots, lot)
	}

	return lots, nil
}

// LoadMachineGroups returns only active machines, grouped by GroupID.
// An empty store result falls back to FallbackMachineGroups.
func (l *Loader) LoadMachineGroups(ctx context.Context) (map[string][]string, error) {
	groups, err := l.machines.ActiveGroups(ctx)
	if err != nil {
		return nil, &LoadJobsError{Cause: err}
	}
	if len(groups) == 0 {
		l.logger.Warn().Msg("no active machines found, using fallback machine groups")
		return FallbackMachineGroups, nil
	}
	return groups, nil
}

// LoadUnavailablePeriods returns ACTIVE periods intersecting
// [origin, origin+30 days), grouped by MachineID.
func (l *Loader) LoadUnavailablePeriods(ctx context.Context, origin time.Time) (map[string][]types.UnavailablePeriod, error) {
	periods, err := l.unavailable.ActiveWithinHorizon(ctx, origin, 30)
	if err != nil {
		return nil, &LoadJobsError{Cause: err}
	}
	return periods, nil
}
