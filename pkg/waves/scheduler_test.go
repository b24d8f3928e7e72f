package waves

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/modelbuilder"
	"github.com/foundrypath/waveplan/pkg/solver"
	"github.com/foundrypath/waveplan/pkg/types"
)

func lotsOf(n int) []*types.Lot {
	lots := make([]*types.Lot, n)
	for i := range lots {
		lots[i] = &types.Lot{
			LotID: "L" + string(rune('A'+i)),
			Operations: []*types.Operation{
				{LotID: "L" + string(rune('A'+i)), Step: "STEP1", MachineGroup: "G1", Duration: 10, Sequence: 1},
			},
		}
	}
	return lots
}

func TestBatchBelowThresholdIsSingleWave(t *testing.T) {
	lots := lotsOf(5)
	waves := Batch(lots, config.BatchConfig{Threshold: 30, InitialSize: 30, StepSize: 3})
	require.Len(t, waves, 1)
	assert.Len(t, waves[0], 5)
}

func TestBatchEmptyLotsProducesNoWaves(t *testing.T) {
	waves := Batch(nil, config.BatchConfig{Threshold: 30, InitialSize: 30, StepSize: 3})
	assert.Nil(t, waves)
}

func TestBatchAboveThresholdSplitsIntoInitialPlusSteps(t *testing.T) {
	lots := lotsOf(10)
	waves := Batch(lots, config.BatchConfig{Threshold: 4, InitialSize: 4, StepSize: 2})
	require.Len(t, waves, 1+3) // 4 initial, then 2,2,2 = 6 remaining in 3 steps
	assert.Len(t, waves[0], 4)
	assert.Len(t, waves[1], 2)
	assert.Len(t, waves[3], 2)
}

func TestBatchLastWaveTruncatesToRemainder(t *testing.T) {
	lots := lotsOf(9)
	waves := Batch(lots, config.BatchConfig{Threshold: 4, InitialSize: 4, StepSize: 2})
	last := waves[len(waves)-1]
	assert.Len(t, last, 1)
}

func TestBatchPreservesOriginalOrder(t *testing.T) {
	lots := lotsOf(6)
	waves := Batch(lots, config.BatchConfig{Threshold: 2, InitialSize: 2, StepSize: 2})
	var flattened []string
	for _, w := range waves {
		for _, l := range w {
			flattened = append(flattened, l.LotID)
		}
	}
	for i, l := range lots {
		assert.Equal(t, l.LotID, flattened[i])
	}
}

func testEngineConfig() *config.Config {
	cfg := config.Default()
	cfg.Batch = config.BatchConfig{Threshold: 1, InitialSize: 1, StepSize: 1}
	cfg.FastVerification = true
	return cfg
}

func TestSchedulerRunCarriesSolvedTasksForwardAcrossWaves(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []*types.Lot{
		{LotID: "L1", Operations: []*types.Operation{{LotID: "L1", Step: "STEP1", MachineGroup: "G1", Duration: 30, Sequence: 1}}},
		{LotID: "L2", Operations: []*types.Operation{{LotID: "L2", Step: "STEP1", MachineGroup: "G1", Duration: 30, Sequence: 1}}},
	}
	groups := map[string][]string{"G1": {"M1"}}

	adapter := solver.New(config.SolverConfig{MaxTimeSeconds: 5}, zerolog.Nop())
	sched := New(testEngineConfig(), adapter, zerolog.Nop(), nil)

	result, err := sched.Run(context.Background(), lots, groups, nil, origin)
	require.NoError(t, err)
	assert.Equal(t, 2, result.WavesRun)
	assert.Equal(t, 0, result.WaveFailures)
	require.Len(t, result.Solved, 2)

	// L2 must not overlap L1 on the single shared machine: the second
	// wave's model had to see L1's interval as fixed context.
	l1 := result.Solved[modelbuilder.TaskKey{LotID: "L1", Step: "STEP1"}]
	l2 := result.Solved[modelbuilder.TaskKey{LotID: "L2", Step: "STEP1"}]
	assert.False(t, l1.Start.Before(origin) || l2.Start.Before(origin))
	assert.True(t, l2.Start.Equal(l1.End) || l2.Start.After(l1.End) || l1.Start.Equal(l2.End) || l1.Start.After(l2.End))
}

func TestSchedulerRunReturnsErrorWhenModelBuildFails(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []*types.Lot{
		{LotID: "L1", Operations: []*types.Operation{{LotID: "L1", Step: "STEP1", MachineGroup: "MISSING", Duration: 30, Sequence: 1}}},
	}
	groups := map[string][]string{}

	adapter := solver.New(config.SolverConfig{MaxTimeSeconds: 5}, zerolog.Nop())
	sched := New(testEngineConfig(), adapter, zerolog.Nop(), nil)

	_, err := sched.Run(context.Background(), lots, groups, nil, origin)
	require.Error(t, err)
}

func TestSchedulerRunReportsProgress(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []*types.Lot{
		{LotID: "L1", Operations: []*types.Operation{{LotID: "L1", Step: "STEP1", MachineGroup: "G1", Duration: 10, Sequence: 1}}},
	}
	groups := map[string][]string{"G1": {"M1"}}

	var calls int
	progressFn := func(message string, waveIndex, waveCount int, percent float64) { calls++ }

	adapter := solver.New(config.SolverConfig{MaxTimeSeconds: 5}, zerolog.Nop())
	sched := New(testEngineConfig(), adapter, zerolog.Nop(), progressFn)

	_, err := sched.Run(context.Background(), lots, groups, nil, origin)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 2) // at least one per-wave + final 100%
}
