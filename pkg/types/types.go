// Package types holds the domain model shared across the scheduling engine:
// lots, operations, machines, and the derived classification the Model
// Builder dispatches on.
package types

import "time"

// StepStatus is the lifecycle stage of an Operation as recorded by the
// external clock-simulation collaborator.
type StepStatus int

const (
	StepStatusNewAdd StepStatus = iota
	StepStatusWIP
	StepStatusCompleted
)

func (s StepStatus) String() string {
	switch s {
	case StepStatusNewAdd:
		return "NewAdd"
	case StepStatusWIP:
		return "WIP"
	case StepStatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// OperationClass is the engine-internal classification derived from an
// Operation's StepStatus and planned/frozen fields. The Model Builder
// dispatches on this tag rather than on nested per-lot maps.
type OperationClass int

const (
	ClassNormal OperationClass = iota
	ClassCompleted
	ClassWIP
	ClassFrozen
)

func (c OperationClass) String() string {
	switch c {
	case ClassNormal:
		return "Normal"
	case ClassCompleted:
		return "Completed"
	case ClassWIP:
		return "WIP"
	case ClassFrozen:
		return "Frozen"
	default:
		return "Unknown"
	}
}

// PlanHistoryEntry is one append-only record of a planning decision made
// for a single operation. The full PlanHistory list never shrinks.
type PlanHistoryEntry struct {
	PlanID           string    `json:"plan_id" db:"plan_id"`
	PlanCheckInTime  time.Time `json:"plan_check_in_time" db:"plan_check_in_time"`
	PlanCheckOutTime time.Time `json:"plan_check_out_time" db:"plan_check_out_time"`
	PlanMachineID    string    `json:"plan_machine_id" db:"plan_machine_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// FrozenInterval fixes an operation's machine and time bounds before
// solving begins; it participates in machine exclusivity like any other
// solved interval but is never revisited by the optimizer.
type FrozenInterval struct {
	MachineID string
	Start     time.Time
	End       time.Time
}

// Operation is one re-entrant step of a Lot, demanding a machine drawn
// from MachineGroup for Duration minutes.
type Operation struct {
	LotID        string
	Step         string
	MachineGroup string
	Duration     int // minutes, > 0
	Sequence     int // strictly monotonic within a lot, > 0
	StepStatus   StepStatus

	CheckInTime  *time.Time
	CheckOutTime *time.Time

	PlanCheckInTime  *time.Time
	PlanCheckOutTime *time.Time
	PlanMachineID    *string
	PlanHistory      []PlanHistoryEntry

	Frozen *FrozenInterval // non-nil iff this operation is pinned externally
}

// Class derives the engine-internal classification for this operation
// per spec: Completed/WIP/Frozen/Normal. A Frozen override always wins
// regardless of StepStatus.
func (o *Operation) Class() OperationClass {
	if o.Frozen != nil {
		return ClassFrozen
	}
	if o.StepStatus == StepStatusCompleted && o.PlanCheckInTime != nil &&
		o.PlanCheckOutTime != nil && o.PlanMachineID != nil {
		return ClassCompleted
	}
	if o.StepStatus == StepStatusWIP {
		return ClassWIP
	}
	return ClassNormal
}

// HadPriorPlan reports whether this operation already carried a planned
// machine/time assignment before the current run — used by the Artifact
// Emitter to distinguish a reschedule from a first-time plan.
func (o *Operation) HadPriorPlan() bool {
	return o.PlanMachineID != nil && o.PlanCheckInTime != nil && o.PlanCheckOutTime != nil
}

// Lot is a production work unit: an ordered, non-empty sequence of
// Operations, identified by LotID.
type Lot struct {
	LotID            string
	Priority         int // non-negative; higher = more weight in weighted-tardiness
	DueDate          *time.Time
	ActualFinishDate *time.Time
	PlanStartTime    *time.Time
	LotCreateDate    *time.Time

	Operations []*Operation // ordered by Sequence

	PlanFinishDate *time.Time
	DelayDays      *float64
}

// ReleaseMinutes computes release(lot) relative to origin per invariant 4:
// max(0, minutes from origin to the first defined of {PlanStartTime,
// LotCreateDate}; else 0).
func (l *Lot) ReleaseMinutes(origin time.Time) int {
	var ref *time.Time
	if l.PlanStartTime != nil {
		ref = l.PlanStartTime
	} else if l.LotCreateDate != nil {
		ref = l.LotCreateDate
	}
	if ref == nil {
		return 0
	}
	mins := int(ref.Sub(origin).Minutes())
	if mins < 0 {
		return 0
	}
	return mins
}

// Machine is a schedulable resource; only active machines participate.
type Machine struct {
	MachineID string
	GroupID   string
	IsActive  bool
}

// UnavailabilityType enumerates the reasons a machine may be blocked out.
type UnavailabilityType string

const (
	UnavailabilityPM       UnavailabilityType = "PM"
	UnavailabilityBreak    UnavailabilityType = "BREAK"
	UnavailabilityDowntime UnavailabilityType = "DOWNTIME"
	UnavailabilityReserved UnavailabilityType = "RESERVED"
)

// UnavailabilityStatus is the lifecycle of an UnavailablePeriod record;
// only ACTIVE periods participate in scheduling.
type UnavailabilityStatus string

const (
	UnavailabilityStatusActive   UnavailabilityStatus = "ACTIVE"
	UnavailabilityStatusInactive UnavailabilityStatus = "INACTIVE"
)

// UnavailablePeriod blocks a single machine for [Start, End).
type UnavailablePeriod struct {
	MachineID string
	Start     time.Time
	End       time.Time
	Type      UnavailabilityType
	Reason    string
	Status    UnavailabilityStatus
}

// QTimePair declares a maximum allowed gap, in minutes, between the end
// of an earlier step and the start of a later step within the same lot.
type QTimePair struct {
	EarlierStep   string
	LaterStep     string
	MaxGapMinutes int
}

// Interval is a half-open [Start, End) time window in absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// SolvedTask is the engine's record of a task's final (start, end,
// machine) assignment, valid for operations of any class — it is what
// the Wave Scheduler carries forward between waves and what the Result
// Writer and reporters consume.
type SolvedTask struct {
	LotID     string
	Step      string
	Class     OperationClass
	MachineID string
	Start     time.Time
	End       time.Time
	Duration  int
}

// StartMinutes and EndMinutes express a SolvedTask's bounds as integer
// minutes relative to a wave origin, the unit the carry-map and model
// variables are expressed in.
func (t SolvedTask) StartMinutes(origin time.Time) int {
	return int(t.Start.Sub(origin).Minutes())
}

func (t SolvedTask) EndMinutes(origin time.Time) int {
	return int(t.End.Sub(origin).Minutes())
}
