package utilization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundrypath/waveplan/pkg/modelbuilder"
	"github.com/foundrypath/waveplan/pkg/types"
)

func TestComputeUtilizationRowsBasicWindow(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	groups := map[string][]string{"G1": {"M1", "M2"}}
	solved := map[modelbuilder.TaskKey]types.SolvedTask{
		{LotID: "L1", Step: "S1"}: {MachineID: "M1", Start: origin, End: origin.Add(30 * time.Minute)},
		{LotID: "L1", Step: "S2"}: {MachineID: "M2", Start: origin.Add(30 * time.Minute), End: origin.Add(60 * time.Minute)},
	}

	rows := computeUtilizationRows("SCHED1", "PLAN1", groups, solved)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "G1", row.GroupID)
	assert.Equal(t, 60.0, row.UsedMinutes)
	assert.Equal(t, 120.0, row.CapacityMinutes) // 60-min window * 2 members
	assert.InDelta(t, 0.5, row.Utilization, 0.001)
}

func TestComputeUtilizationRowsUsesGlobalWindowNotPerGroupWindow(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	groups := map[string][]string{"G1": {"M1"}, "G2": {"M2"}}
	solved := map[modelbuilder.TaskKey]types.SolvedTask{
		// G1 is only busy for a narrow slice of the run...
		{LotID: "L1", Step: "S1"}: {MachineID: "M1", Start: origin, End: origin.Add(100 * time.Minute)},
		// ...but the run's global window runs to minute 600 because of G2.
		{LotID: "L2", Step: "S1"}: {MachineID: "M2", Start: origin, End: origin.Add(600 * time.Minute)},
	}

	rows := computeUtilizationRows("SCHED1", "PLAN1", groups, solved)
	require.Len(t, rows, 2)

	byGroup := make(map[string]float64)
	for _, row := range rows {
		assert.Equal(t, 600.0, row.CapacityMinutes, "every group's capacity must use the global window, not its own")
		byGroup[row.GroupID] = row.Utilization
	}
	assert.InDelta(t, 0.1667, byGroup["G1"], 0.001)
	assert.InDelta(t, 1.0, byGroup["G2"], 0.001)
}

func TestComputeUtilizationRowsSkipsIdleGroups(t *testing.T) {
	groups := map[string][]string{"G1": {"M1"}, "G2": {"M2"}}
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	solved := map[modelbuilder.TaskKey]types.SolvedTask{
		{LotID: "L1", Step: "S1"}: {MachineID: "M1", Start: origin, End: origin.Add(10 * time.Minute)},
	}

	rows := computeUtilizationRows("SCHED1", "PLAN1", groups, solved)
	require.Len(t, rows, 1)
	assert.Equal(t, "G1", rows[0].GroupID)
}

func TestComputeUtilizationRowsSkipsZeroLengthSentinels(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	groups := map[string][]string{"G1": {"M1"}}
	solved := map[modelbuilder.TaskKey]types.SolvedTask{
		{LotID: "L1", Step: "S1"}: {MachineID: "", Start: origin, End: origin},
		{LotID: "L1", Step: "S2"}: {MachineID: "M1", Start: origin, End: origin}, // zero-length
	}

	rows := computeUtilizationRows("SCHED1", "PLAN1", groups, solved)
	assert.Empty(t, rows)
}

func TestComputeUtilizationRowsIgnoresUnknownMachines(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	groups := map[string][]string{"G1": {"M1"}}
	solved := map[modelbuilder.TaskKey]types.SolvedTask{
		{LotID: "L1", Step: "S1"}: {MachineID: "UNKNOWN", Start: origin, End: origin.Add(time.Minute)},
	}
	rows := computeUtilizationRows("SCHED1", "PLAN1", groups, solved)
	assert.Empty(t, rows)
}

func TestComputeUtilizationRowsGroupWithNoMembersGetsNoRow(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	groups := map[string][]string{"G1": {}}
	solved := map[modelbuilder.TaskKey]types.SolvedTask{}
	_ = origin
	rows := computeUtilizationRows("SCHED1", "PLAN1", groups, solved)
	assert.Empty(t, rows) // no solved tasks on any member, no row at all
}
