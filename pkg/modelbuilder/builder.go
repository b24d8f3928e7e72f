// Package modelbuilder implements the Model Builder (C2): it is purely
// constructive — it translates a wave of lots plus the frozen context
// carried from prior waves into an opaque constraint-model handle (a
// Model) that pkg/solver then solves. It performs no solving itself.
package modelbuilder

import (
	"fmt"
	"time"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/types"
)

// TaskStatus tags how a Task's interval was constructed.
type TaskStatus int

const (
	// TaskFixed is a Completed/WIP/Frozen task: start/end/machine are
	// already constants before solving begins.
	TaskFixed TaskStatus = iota
	// TaskNormal is subject to optimization: the solver must choose a
	// start time and a machine from Candidates.
	TaskNormal
)

// Task is the per-operation unit of the model: its variables (for
// Normal tasks) or constants (for fixed-class tasks), its lower bound
// on start (from sequencing/release), and — for Normal tasks — the
// machines it may be assigned to.
type Task struct {
	LotID string
	Step  string
	Class types.OperationClass
	Status TaskStatus

	Duration int // minutes

	// LowerBound is the earliest minute (relative to wave origin) this
	// task's start may take: max(prev_end, release) for a lot's first
	// schedulable operation, prev_end otherwise (§4.2 Sequencing).
	LowerBound int

	// Populated when Status == TaskFixed (constants, already clamped to
	// >= 0 per §4.2's Completed/WIP/Frozen handling). Zero-length
	// sentinels (FixedStart == FixedEnd) occupy no machine.
	FixedStart   int
	FixedEnd     int
	FixedMachine string

	// Populated when Status == TaskNormal: the active machines of the
	// task's declared group, in deterministic order.
	Candidates []string
}

// QTimeConstraint binds two tasks within the same lot: start(later) -
// end(earlier) <= MaxGapMinutes.
type QTimeConstraint struct {
	LotID         string
	EarlierStep   string
	LaterStep     string
	MaxGapMinutes int
}

// Model is the opaque constraint-model handle C2 produces and C3
// consumes. Lot order is preserved exactly as received — the Model
// Builder never re-sorts by priority or due date (§4.4).
type Model struct {
	Origin  time.Time
	Horizon int // minutes, upper bound on any time variable

	// LotOrder is the wave's lots in the order they must be solved,
	// carried through unchanged from the loader/batcher.
	LotOrder []string

	// Tasks is keyed by (LotID, Step) via TaskKey.
	Tasks map[TaskKey]*Task

	// StepsByLot lists each lot's steps in sequence order, so the
	// solver can walk a lot's chain without re-deriving it.
	StepsByLot map[string][]string

	// MachineGroups maps a MachineGroup label to its active members.
	MachineGroups map[string][]string

	// Unavailability lists blocked windows per machine, in [start,end)
	// minutes relative to Origin.
	Unavailability map[string][]Window

	QTime []QTimeConstraint

	Objective Objective
}

// TaskKey identifies a task by (LotID, Step).
type TaskKey struct {
	LotID string
	Step  string
}

// Window is a half-open [Start,End) interval in minutes relative to a
// Model's Origin.
type Window struct {
	Start int
	End   int
}

// Objective carries the wave's selected objective and its tie-break
// coefficients (spec §9 Open Question: exposed as configuration).
type Objective struct {
	Kind           config.ObjectiveKind
	DelayWeight    int
	MakespanWeight int
	// DueDateMinutes holds each lot's due date relative to Origin, for
	// lots that declare one; absent lots are excluded from the delay
	// term exactly as spec requires.
	DueDateMinutes map[string]int
	Priority       map[string]int
}

// FixedContext is the frozen context carried in from prior waves: every
// already-solved task (any class), keyed the same way as Model.Tasks.
type FixedContext map[TaskKey]types.SolvedTask

// Build constructs a fresh Model for one wave. lots must already be in
// the order the wave will be solved in (§4.4: natural LotId ordering,
// no re-sorting here). fixed carries every task solved in a prior wave,
// which is injected as an immutable interval on its chosen machine.
func Build(lots []*types.Lot, fixed FixedContext, machineGroups map[string][]string, unavailable map[string][]types.UnavailablePeriod, origin time.Time, cfg *config.Config) (*Model, error) {
	horizon := computeHorizon(lots, cfg.Horizon.BufferMinutes)

	m := &Model{
		Origin:         origin,
		Horizon:        horizon,
		Tasks:          make(map[TaskKey]*Task),
		StepsByLot:     make(map[string][]string),
		MachineGroups:  machineGroups,
		Unavailability: make(map[string][]Window),
		Objective: Objective{
			Kind:           cfg.Objective.Kind,
			DelayWeight:    cfg.Objective.DelayWeight,
			MakespanWeight: cfg.Objective.MakespanWeight,
			DueDateMinutes: make(map[string]int),
			Priority:       make(map[string]int),
		},
	}
	if cfg.FastVerification {
		m.Objective.Kind = ""
	}

	for machineID, periods := range unavailable {
		for _, p := range periods {
			if p.Status != types.UnavailabilityStatusActive {
				continue
			}
			start := clampMinutes(p.Start.Sub(origin))
			end := clampMinutes(p.End.Sub(origin))
			if end <= 0 {
				continue
			}
			m.Unavailability[machineID] = append(m.Unavailability[machineID], Window{Start: start, End: end})
		}
	}

	for _, lot := range lots {
		if len(lot.Operations) == 0 {
			return nil, fmt.Errorf("modelbuilder: lot %s has no operations", lot.LotID)
		}
		m.LotOrder = append(m.LotOrder, lot.LotID)

		steps := make([]string, 0, len(lot.Operations))
		release := lot.ReleaseMinutes(origin)
		prevEnd := 0
		firstSchedulable := true

		for _, op := range lot.Operations {
			steps = append(steps, op.Step)
			key := TaskKey{LotID: lot.LotID, Step: op.Step}

			if solved, ok := fixed[key]; ok {
				task := &Task{LotID: lot.LotID, Step: op.Step, Class: solved.Class, Status: TaskFixed,
					Duration: solved.Duration, FixedStart: solved.StartMinutes(origin), FixedEnd: solved.EndMinutes(origin),
					FixedMachine: solved.MachineID}
				m.Tasks[key] = task
				prevEnd = task.FixedEnd
				firstSchedulable = false
				continue
			}

			task, err := buildTask(op, origin, prevEnd, release, firstSchedulable, machineGroups)
			if err != nil {
				return nil, err
			}
			m.Tasks[key] = task

			if task.Status == TaskFixed {
				prevEnd = task.FixedEnd
			} else {
				prevEnd = task.LowerBound + task.Duration // optimistic chain bound; solver enforces the real value
				firstSchedulable = false
			}
		}
		m.StepsByLot[lot.LotID] = steps

		if lot.DueDate != nil {
			m.Objective.DueDateMinutes[lot.LotID] = clampMinutes(lot.DueDate.Sub(origin))
		}
		m.Objective.Priority[lot.LotID] = lot.Priority

		m.QTime = append(m.QTime, qtimeConstraintsForLot(lot, cfg.QTime)...)
	}

	// Every prior wave's solved task not already represented above (i.e.
	// every task belonging to a lot outside this wave) is injected as a
	// fixed occupant so the solver's machine-exclusivity check sees it —
	// without this, wave N+1 would place as if wave N never ran (§5).
	for key, solved := range fixed {
		if _, ok := m.Tasks[key]; ok {
			continue
		}
		m.Tasks[key] = &Task{
			LotID: key.LotID, Step: key.Step, Class: solved.Class, Status: TaskFixed,
			Duration: solved.Duration, FixedStart: solved.StartMinutes(origin), FixedEnd: solved.EndMinutes(origin),
			FixedMachine: solved.MachineID,
		}
	}

	return m, nil
}

// buildTask dispatches on the operation's class per §4.2's
// variable-construction rules.
func buildTask(op *types.Operation, origin time.Time, prevEnd, release int, isFirstSchedulable bool, machineGroups map[string][]string) (*Task, error) {
	switch op.Class() {
	case types.ClassCompleted:
		start := clampMinutes(op.PlanCheckInTime.Sub(origin))
		end := clampMinutes(op.PlanCheckOutTime.Sub(origin))
		if end <= 0 {
			// Zero-length sentinel: ends before wave origin, contributes
			// no machine occupancy (§3 Completed classification).
			return &Task{LotID: op.LotID, Step: op.Step, Class: types.ClassCompleted, Status: TaskFixed,
				FixedStart: 0, FixedEnd: 0, FixedMachine: ""}, nil
		}
		return &Task{LotID: op.LotID, Step: op.Step, Class: types.ClassCompleted, Status: TaskFixed,
			Duration: end - start, FixedStart: start, FixedEnd: end, FixedMachine: *op.PlanMachineID}, nil

	case types.ClassFrozen:
		start := clampMinutes(op.Frozen.Start.Sub(origin))
		end := clampMinutes(op.Frozen.End.Sub(origin))
		if end <= 0 {
			return &Task{LotID: op.LotID, Step: op.Step, Class: types.ClassFrozen, Status: TaskFixed,
				FixedStart: 0, FixedEnd: 0, FixedMachine: ""}, nil
		}
		return &Task{LotID: op.LotID, Step: op.Step, Class: types.ClassFrozen, Status: TaskFixed,
			Duration: end - start, FixedStart: start, FixedEnd: end, FixedMachine: op.Frozen.MachineID}, nil

	case types.ClassWIP:
		var elapsed int
		if op.CheckInTime != nil {
			elapsed = clampMinutes(origin.Sub(*op.CheckInTime))
			if elapsed < 0 {
				elapsed = 0
			}
		}
		remaining := op.Duration - elapsed
		if remaining < 0 {
			remaining = 0
		}
		start := prevEnd
		end := start + remaining
		machine := ""
		if op.PlanMachineID != nil {
			machine = *op.PlanMachineID
		}
		return &Task{LotID: op.LotID, Step: op.Step, Class: types.ClassWIP, Status: TaskFixed,
			Duration: remaining, FixedStart: start, FixedEnd: end, FixedMachine: machine}, nil

	default: // Normal
		lower := prevEnd
		if isFirstSchedulable && release > lower {
			lower = release
		}
		members := machineGroups[op.MachineGroup]
		if len(members) == 0 {
			return nil, fmt.Errorf("modelbuilder: machine group %q for %s/%s has no active members", op.MachineGroup, op.LotID, op.Step)
		}
		candidates := make([]string, len(members))
		copy(candidates, members)
		return &Task{LotID: op.LotID, Step: op.Step, Class: types.ClassNormal, Status: TaskNormal,
			Duration: op.Duration, LowerBound: lower, Candidates: candidates}, nil
	}
}

func qtimeConstraintsForLot(lot *types.Lot, pairs []types.QTimePair) []QTimeConstraint {
	stepSet := make(map[string]bool, len(lot.Operations))
	for _, op := range lot.Operations {
		stepSet[op.Step] = true
	}
	var out []QTimeConstraint
	for _, p := range pairs {
		if stepSet[p.EarlierStep] && stepSet[p.LaterStep] {
			out = append(out, QTimeConstraint{LotID: lot.LotID, EarlierStep: p.EarlierStep, LaterStep: p.LaterStep, MaxGapMinutes: p.MaxGapMinutes})
		}
	}
	return out
}

// computeHorizon implements §4.2's horizon policy: the longest lot's
// total duration, plus a deployment-configured buffer.
func computeHorizon(lots []*types.Lot, bufferMinutes int) int {
	max := 0
	for _, lot := range lots {
		sum := 0
		for _, op := range lot.Operations {
			sum += op.Duration
		}
		if sum > max {
			max = sum
		}
	}
	return max + bufferMinutes
}

func clampMinutes(d time.Duration) int {
	mins := int(d.Minutes())
	if mins < 0 {
		return 0
	}
	return mins
}
