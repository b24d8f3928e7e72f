package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30, cfg.Solver.MaxTimeSeconds)
	assert.Equal(t, 8, cfg.Solver.NumSearchWorkers)
	assert.False(t, cfg.Solver.LogSearchProgress)
	assert.Equal(t, 30, cfg.Batch.Threshold)
	assert.Equal(t, 30, cfg.Batch.InitialSize)
	assert.Equal(t, 3, cfg.Batch.StepSize)
	assert.True(t, cfg.FastVerification)
	assert.Len(t, cfg.QTime, 1)
	assert.Equal(t, "STEP3", cfg.QTime[0].EarlierStep)
	assert.Equal(t, 200, cfg.QTime[0].MaxGapMinutes)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SOLVER_MAX_TIME_IN_SECONDS", "90")
	t.Setenv("INCREMENTAL_BATCH_THRESHOLD", "50")
	t.Setenv("SCHEDULER_FAST_VERIFICATION", "false")
	t.Setenv("QTIME_PAIRS", "STEP1:STEP2:10,STEP5:STEP6:20")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 90, cfg.Solver.MaxTimeSeconds)
	assert.Equal(t, 50, cfg.Batch.Threshold)
	assert.False(t, cfg.FastVerification)
	require.Len(t, cfg.QTime, 2)
	assert.Equal(t, "STEP1", cfg.QTime[0].EarlierStep)
	assert.Equal(t, 20, cfg.QTime[1].MaxGapMinutes)
}

func TestApplyEnvOverridesIgnoresMalformedQTimePairs(t *testing.T) {
	t.Setenv("QTIME_PAIRS", "garbage")
	cfg, err := Load("")
	require.NoError(t, err)
	// malformed input leaves the compiled default untouched
	assert.Len(t, cfg.QTime, 1)
}

func TestLoadYAMLFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "waveplan-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("batch:\n  threshold: 5\n  initial_size: 5\n  step_size: 1\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Batch.Threshold)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestParseStartTime(t *testing.T) {
	ts, err := ParseStartTime("2026-03-01 08:00:00")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, 8, ts.Hour())

	_, err = ParseStartTime("not-a-time")
	assert.Error(t, err)
}
