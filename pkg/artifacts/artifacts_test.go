package artifacts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundrypath/waveplan/pkg/modelbuilder"
	"github.com/foundrypath/waveplan/pkg/types"
)

func TestBookingForByClass(t *testing.T) {
	task := types.SolvedTask{}

	task.Class = types.ClassCompleted
	assert.Equal(t, BookingCompleted, bookingFor(&types.Operation{}, task))

	task.Class = types.ClassWIP
	assert.Equal(t, BookingWIP, bookingFor(&types.Operation{}, task))

	task.Class = types.ClassFrozen
	assert.Equal(t, BookingFrozen, bookingFor(&types.Operation{}, task))
}

func TestBookingForNormalDistinguishesRescheduledFromNew(t *testing.T) {
	task := types.SolvedTask{Class: types.ClassNormal}
	now := time.Now()
	machine := "M1"

	rescheduled := &types.Operation{PlanMachineID: &machine, PlanCheckInTime: &now, PlanCheckOutTime: &now}
	assert.Equal(t, BookingRescheduled, bookingFor(rescheduled, task))

	fresh := &types.Operation{}
	assert.Equal(t, BookingNew, bookingFor(fresh, task))
}

func TestBuildStepResultsSortsByLotThenStepIdx(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	run := RunSummary{
		Lots: []*types.Lot{
			{LotID: "L2", Operations: []*types.Operation{{LotID: "L2", Step: "S1"}}},
			{LotID: "L1", Operations: []*types.Operation{
				{LotID: "L1", Step: "S1"},
				{LotID: "L1", Step: "S2"},
			}},
		},
		Solved: map[modelbuilder.TaskKey]types.SolvedTask{
			{LotID: "L2", Step: "S1"}: {MachineID: "M1", Start: origin, End: origin.Add(time.Minute), Class: types.ClassNormal},
			{LotID: "L1", Step: "S1"}: {MachineID: "M1", Start: origin, End: origin.Add(time.Minute), Class: types.ClassNormal},
			{LotID: "L1", Step: "S2"}: {MachineID: "M1", Start: origin, End: origin.Add(time.Minute), Class: types.ClassNormal},
		},
	}

	steps := buildStepResults(run)
	require.Len(t, steps, 3)
	assert.Equal(t, "L1", steps[0].LotID)
	assert.Equal(t, 1, steps[0].StepIdx)
	assert.Equal(t, "L1", steps[1].LotID)
	assert.Equal(t, 2, steps[1].StepIdx)
	assert.Equal(t, "L2", steps[2].LotID)
}

func TestBuildStepResultsOmitsUnsolvedOperations(t *testing.T) {
	run := RunSummary{
		Lots:   []*types.Lot{{LotID: "L1", Operations: []*types.Operation{{LotID: "L1", Step: "S1"}}}},
		Solved: map[modelbuilder.TaskKey]types.SolvedTask{},
	}
	assert.Empty(t, buildStepResults(run))
}

func TestBuildPlanResultComputesDelayForLateLots(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	due := origin.Add(30 * time.Minute)
	run := RunSummary{
		StartedAt:   origin,
		CompletedAt: origin.Add(time.Second),
		Lots: []*types.Lot{
			{LotID: "L1", DueDate: &due, Operations: []*types.Operation{{LotID: "L1", Step: "S1"}}},
		},
		Solved: map[modelbuilder.TaskKey]types.SolvedTask{
			{LotID: "L1", Step: "S1"}: {Start: origin, End: origin.Add(90 * time.Minute)},
		},
	}

	plan := buildPlanResult(run)
	require.Len(t, plan.LotResults, 1)
	assert.Equal(t, "+1h0m0s", plan.LotResults[0].Delay)
}

func TestBuildPlanResultOnTimeWhenNoDueDateOrEarly(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	due := origin.Add(time.Hour)
	run := RunSummary{
		Lots: []*types.Lot{
			{LotID: "L1", Operations: []*types.Operation{{LotID: "L1", Step: "S1"}}},
			{LotID: "L2", DueDate: &due, Operations: []*types.Operation{{LotID: "L2", Step: "S1"}}},
		},
		Solved: map[modelbuilder.TaskKey]types.SolvedTask{
			{LotID: "L1", Step: "S1"}: {Start: origin, End: origin.Add(time.Minute)},
			{LotID: "L2", Step: "S1"}: {Start: origin, End: origin.Add(time.Minute)},
		},
	}
	plan := buildPlanResult(run)
	assert.Equal(t, "on-time", plan.LotResults[0].Delay)
	assert.Equal(t, "on-time", plan.LotResults[1].Delay)
}

func TestLotFinishNilWhenNoSolvedOperations(t *testing.T) {
	lot := &types.Lot{LotID: "L1", Operations: []*types.Operation{{LotID: "L1", Step: "S1"}}}
	assert.Nil(t, lotFinish(lot, map[modelbuilder.TaskKey]types.SolvedTask{}))
}

func TestLotFinishTakesLatestEnd(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lot := &types.Lot{LotID: "L1", Operations: []*types.Operation{{LotID: "L1", Step: "S1"}, {LotID: "L1", Step: "S2"}}}
	solved := map[modelbuilder.TaskKey]types.SolvedTask{
		{LotID: "L1", Step: "S1"}: {End: origin.Add(10 * time.Minute)},
		{LotID: "L1", Step: "S2"}: {End: origin.Add(30 * time.Minute)},
	}
	finish := lotFinish(lot, solved)
	require.NotNil(t, finish)
	assert.True(t, finish.Equal(origin.Add(30 * time.Minute)))
}

func TestBuildMachineTaskSegmentsIncludesHeaderAndOrdersChildrenByStart(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	run := RunSummary{
		Solved: map[modelbuilder.TaskKey]types.SolvedTask{
			{LotID: "L1", Step: "S2"}: {LotID: "L1", Step: "S2", MachineID: "M1", Start: origin.Add(20 * time.Minute), End: origin.Add(30 * time.Minute)},
			{LotID: "L1", Step: "S1"}: {LotID: "L1", Step: "S1", MachineID: "M1", Start: origin, End: origin.Add(10 * time.Minute)},
		},
	}
	segments := buildMachineTaskSegments(run)
	require.Len(t, segments, 3) // 1 header + 2 children
	assert.Nil(t, segments[0].Parent)
	assert.Equal(t, "M1", segments[0].MachineID)
	require.NotNil(t, segments[1].Start)
	assert.True(t, segments[1].Start.Equal(origin))
}

func TestBuildMachineTaskSegmentsIncludesActiveUnavailability(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	run := RunSummary{
		Solved: map[modelbuilder.TaskKey]types.SolvedTask{},
		Unavailable: map[string][]types.UnavailablePeriod{
			"M1": {{Start: origin, End: origin.Add(time.Hour), Status: types.UnavailabilityStatusActive}},
		},
	}
	segments := buildMachineTaskSegments(run)
	require.Len(t, segments, 2)
}

func TestBuildMachineTaskSegmentsSkipsInactiveUnavailability(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	run := RunSummary{
		Solved: map[modelbuilder.TaskKey]types.SolvedTask{},
		Unavailable: map[string][]types.UnavailablePeriod{
			"M1": {{Start: origin, End: origin.Add(time.Hour), Status: types.UnavailabilityStatusInactive}},
		},
	}
	assert.Empty(t, buildMachineTaskSegments(run))
}
