package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foundrypath/waveplan/pkg/types"
)

// LotRow is the persisted shape of a Lot (table "lots").
type LotRow struct {
	LotID            string     `db:"lot_id" json:"lot_id"`
	Priority         int        `db:"priority" json:"priority"`
	DueDate          *time.Time `db:"due_date" json:"due_date,omitempty"`
	ActualFinishDate *time.Time `db:"actual_finish_date" json:"actual_finish_date,omitempty"`
	PlanStartTime    *time.Time `db:"plan_start_time" json:"plan_start_time,omitempty"`
	LotCreateDate    *time.Time `db:"lot_create_date" json:"lot_create_date,omitempty"`
	PlanFinishDate   *time.Time `db:"plan_finish_date" json:"plan_finish_date,omitempty"`
	DelayDays        *float64   `db:"delay_days" json:"delay_days,omitempty"`
}

// OperationRow is the persisted shape of an Operation (table "operations").
type OperationRow struct {
	LotID        string    `db:"lot_id" json:"lot_id"`
	Step         string    `db:"step" json:"step"`
	MachineGroup string    `db:"machine_group" json:"machine_group"`
	Duration     int       `db:"duration" json:"duration"`
	Sequence     int       `db:"sequence" json:"sequence"`
	StepStatus   int       `db:"step_status" json:"step_status"`

	CheckInTime  *time.Time `db:"check_in_time" json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `db:"check_out_time" json:"check_out_time,omitempty"`

	PlanCheckInTime  *time.Time     `db:"plan_check_in_time" json:"plan_check_in_time,omitempty"`
	PlanCheckOutTime *time.Time     `db:"plan_check_out_time" json:"plan_check_out_time,omitempty"`
	PlanMachineID    *string        `db:"plan_machine_id" json:"plan_machine_id,omitempty"`
	PlanHistory      PlanHistoryArr `db:"plan_history" json:"plan_history"`
}

// ToDomain converts a persisted row into the engine's working types.Operation.
func (r *OperationRow) ToDomain() *types.Operation {
	op := &types.Operation{
		LotID:            r.LotID,
		Step:             r.Step,
		MachineGroup:     r.MachineGroup,
		Duration:         r.Duration,
		Sequence:         r.Sequence,
		StepStatus:       types.StepStatus(r.StepStatus),
		CheckInTime:      r.CheckInTime,
		CheckOutTime:     r.CheckOutTime,
		PlanCheckInTime:  r.PlanCheckInTime,
		PlanCheckOutTime: r.PlanCheckOutTime,
		PlanMachineID:    r.PlanMachineID,
		PlanHistory:      []types.PlanHistoryEntry(r.PlanHistory),
	}
	return op
}

// FrozenRow is the persisted shape of a dedicated Frozen entry, merged
// into its lot's operation list by the loader.
type FrozenRow struct {
	LotID     string    `db:"lot_id" json:"lot_id"`
	Step      string    `db:"step" json:"step"`
	MachineID string    `db:"machine_id" json:"machine_id"`
	Start     time.Time `db:"start_time" json:"start_time"`
	End       time.Time `db:"end_time" json:"end_time"`
}

// MachineRow is the persisted shape of a Machine (table "machines").
type MachineRow struct {
	MachineID string `db:"machine_id" json:"machine_id"`
	GroupID   string `db:"group_id" json:"group_id"`
	IsActive  bool   `db:"is_active" json:"is_active"`
}

// UnavailablePeriodRow is the persisted shape of an UnavailablePeriod.
type UnavailablePeriodRow struct {
	MachineID string    `db:"machine_id" json:"machine_id"`
	Start     time.Time `db:"start_time" json:"start_time"`
	End       time.Time `db:"end_time" json:"end_time"`
	Type      string    `db:"period_type" json:"period_type"`
	Reason    string    `db:"reason" json:"reason"`
	Status    string    `db:"status" json:"status"`
}

// JobHistoryRow is one row of the job-history table persisted by the
// Artifact Emitter (C7), keyed by a fresh ScheduleId per run.
type JobHistoryRow struct {
	ScheduleID    string    `db:"schedule_id" json:"schedule_id"`
	StartTime     time.Time `db:"start_time" json:"start_time"`
	CompletedAt   time.Time `db:"completed_at" json:"completed_at"`
	LotsScheduled int       `db:"lots_scheduled" json:"lots_scheduled"`
	WavesRun      int       `db:"waves_run" json:"waves_run"`
	WaveFailures  int       `db:"wave_failures" json:"wave_failures"`
	PartialSuccess bool     `db:"partial_success" json:"partial_success"`
}

// UtilizationRow is one group-utilization record persisted by C6.
type UtilizationRow struct {
	ScheduleID       string    `db:"schedule_id" json:"schedule_id"`
	PlanID           string    `db:"plan_id" json:"plan_id"`
	GroupID          string    `db:"group_id" json:"group_id"`
	WindowStart      time.Time `db:"window_start" json:"window_start"`
	WindowEnd        time.Time `db:"window_end" json:"window_end"`
	UsedMinutes      float64   `db:"used_minutes" json:"used_minutes"`
	CapacityMinutes  float64   `db:"capacity_minutes" json:"capacity_minutes"`
	Utilization      float64   `db:"utilization" json:"utilization"`
}

// --- JSONB / array scan-value plumbing, following the teacher's
// driver.Valuer / sql.Scanner pattern for Postgres JSONB columns. ---

// PlanHistoryArr stores an Operation's append-only PlanHistory as a
// single JSONB array column.
type PlanHistoryArr []types.PlanHistoryEntry

func (p PlanHistoryArr) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return json.Marshal([]types.PlanHistoryEntry(p))
}

func (p *PlanHistoryArr) Scan(value interface{}) error {
	if value == nil {
		*p = PlanHistoryArr{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("store: cannot scan %T into PlanHistoryArr", value)
	}
	var entries []types.PlanHistoryEntry
	if err := json.Unmarshal(bytes, &entries); err != nil {
		return err
	}
	*p = PlanHistoryArr(entries)
	return nil
}
