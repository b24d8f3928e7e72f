package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/pkg/types"
)

// LotRepository reads lots, their operations, and their frozen entries.
type LotRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// ListLots returns every lot row, optionally excluding lots whose
// ActualFinishDate is set, per the scheduler_exclude_completed_lots
// store setting.
func (r *LotRepository) ListLots(ctx context.Context, excludeCompleted bool) ([]LotRow, error) {
	query := `SELECT lot_id, priority, due_date, actual_finish_date, plan_start_time,
	                 lot_create_date, plan_finish_date, delay_days
	          FROM lots`
	if excludeCompleted {
		query += ` WHERE actual_finish_date IS NULL`
	}
	query += ` ORDER BY lot_id`

	var rows []LotRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("store: list lots: %w", err)
	}
	return rows, nil
}

// OperationsForLot returns a lot's operations ordered strictly by
// Sequence, per the loader's ordering guarantee.
func (r *LotRepository) OperationsForLot(ctx context.Context, lotID string) ([]OperationRow, error) {
	var rows []OperationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT lot_id, step, machine_group, duration, sequence, step_status,
		       check_in_time, check_out_time, plan_check_in_time, plan_check_out_time,
		       plan_machine_id, plan_history
		FROM operations
		WHERE lot_id = $1
		ORDER BY sequence ASC`, lotID)
	if err != nil {
		return nil, fmt.Errorf("store: operations for lot %s: %w", lotID, err)
	}
	return rows, nil
}

// FrozenForLot returns the dedicated Frozen entries for a lot, keyed by
// step, to be merged into the lot's operation list by the loader.
func (r *LotRepository) FrozenForLot(ctx context.Context, lotID string) ([]FrozenRow, error) {
	var rows []FrozenRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT lot_id, step, machine_id, start_time, end_time
		FROM frozen_operations
		WHERE lot_id = $1`, lotID)
	if err != nil {
		return nil, fmt.Errorf("store: frozen entries for lot %s: %w", lotID, err)
	}
	return rows, nil
}

// MachineRepository reads machines and groups.
type MachineRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// ActiveGroups returns only active machines, grouped by GroupID. An
// empty result is not an error — the loader applies the deployment
// fallback set.
func (r *MachineRepository) ActiveGroups(ctx context.Context) (map[string][]string, error) {
	var rows []MachineRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT machine_id, group_id, is_active FROM machines WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("store: active machines: %w", err)
	}

	groups := make(map[string][]string)
	for _, row := range rows {
		groups[row.GroupID] = append(groups[row.GroupID], row.MachineID)
	}
	return groups, nil
}

// UnavailabilityRepository reads maintenance/downtime windows.
type UnavailabilityRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// ActiveWithinHorizon returns ACTIVE periods intersecting
// [origin, origin+horizonDays), grouped by MachineID.
func (r *UnavailabilityRepository) ActiveWithinHorizon(ctx context.Context, origin time.Time, horizonDays int) (map[string][]types.UnavailablePeriod, error) {
	end := origin.Add(time.Duration(horizonDays) * 24 * time.Hour)

	var rows []UnavailablePeriodRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT machine_id, start_time, end_time, period_type, reason, status
		FROM unavailable_periods
		WHERE status = 'ACTIVE' AND start_time < $1 AND end_time > $2`, end, origin)
	if err != nil {
		return nil, fmt.Errorf("store: unavailable periods: %w", err)
	}

	out := make(map[string][]types.UnavailablePeriod)
	for _, row := range rows {
		out[row.MachineID] = append(out[row.MachineID], types.UnavailablePeriod{
			MachineID: row.MachineID,
			Start:     row.Start,
			End:       row.End,
			Type:      types.UnavailabilityType(row.Type),
			Reason:    row.Reason,
			Status:    types.UnavailabilityStatus(row.Status),
		})
	}
	return out, nil
}

// PlanRepository persists the Result Writer's per-operation and
// per-lot updates (§4.5).
type PlanRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// OperationUpdate is one Normal operation's solved assignment plus the
// history entry to append.
type OperationUpdate struct {
	LotID   string
	Step    string
	Start   time.Time
	End     time.Time
	Machine string
	History types.PlanHistoryEntry
}

// LotUpdate is a lot's aggregate planned fields.
type LotUpdate struct {
	LotID          string
	PlanStartTime  time.Time
	PlanFinishDate time.Time
	DelayDays      *float64
}

// ApplyChunk atomically writes one writer chunk: every operation update
// and every lot update it contains, in a single transaction on a
// dedicated connection (see Manager.WithConnTransaction). History is
// appended to the existing JSONB array in the same UPDATE that writes
// the planned fields, so the append is never a separate round-trip.
func (r *PlanRepository) ApplyChunk(ctx context.Context, tx *sqlx.Tx, ops []OperationUpdate, lots []LotUpdate) error {
	for _, op := range ops {
		historyJSON, err := PlanHistoryArr{op.History}.Value()
		if err != nil {
			return fmt.Errorf("store: marshal history for %s/%s: %w", op.LotID, op.Step, err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE operations
			SET plan_check_in_time = $1,
			    plan_check_out_time = $2,
			    plan_machine_id = $3,
			    plan_history = plan_history || $4::jsonb
			WHERE lot_id = $5 AND step = $6`,
			op.Start, op.End, op.Machine, historyJSON, op.LotID, op.Step)
		if err != nil {
			return fmt.Errorf("store: update operation %s/%s: %w", op.LotID, op.Step, err)
		}
	}

	for _, lot := range lots {
		_, err := tx.ExecContext(ctx, `
			UPDATE lots
			SET plan_start_time = $1, plan_finish_date = $2, delay_days = $3
			WHERE lot_id = $4`,
			lot.PlanStartTime, lot.PlanFinishDate, lot.DelayDays, lot.LotID)
		if err != nil {
			return fmt.Errorf("store: update lot %s: %w", lot.LotID, err)
		}
	}

	return nil
}

// NewPlanID mints a fresh identifier for a PlanHistoryEntry.
func NewPlanID() string {
	return uuid.NewString()
}

// JobHistoryRepository persists one row per run.
type JobHistoryRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func (r *JobHistoryRepository) Insert(ctx context.Context, row JobHistoryRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_history (schedule_id, start_time, completed_at, lots_scheduled, waves_run, wave_failures, partial_success)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ScheduleID, row.StartTime, row.CompletedAt, row.LotsScheduled, row.WavesRun, row.WaveFailures, row.PartialSuccess)
	if err != nil {
		return fmt.Errorf("store: insert job history: %w", err)
	}
	return nil
}

// UtilizationRepository persists per-group utilization rows (C6).
type UtilizationRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func (r *UtilizationRepository) InsertBatch(ctx context.Context, rows []UtilizationRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin utilization tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO utilization_rows (schedule_id, plan_id, group_id, window_start, window_end, used_minutes, capacity_minutes, utilization)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			row.ScheduleID, row.PlanID, row.GroupID, row.WindowStart, row.WindowEnd, row.UsedMinutes, row.CapacityMinutes, row.Utilization)
		if err != nil {
			return fmt.Errorf("store: insert utilization row for group %s: %w", row.GroupID, err)
		}
	}
	return tx.Commit()
}
