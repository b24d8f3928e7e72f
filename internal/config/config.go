// Package config loads the engine's run configuration by layering
// compiled-in defaults, an optional YAML file, and environment variable
// overrides — no module-level mutable state, no process-env reads
// outside this package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foundrypath/waveplan/pkg/types"
)

// Config is the immutable configuration handed to C2/C3/C4 at run
// construction.
type Config struct {
	Solver    SolverConfig    `yaml:"solver" json:"solver"`
	Batch     BatchConfig     `yaml:"batch" json:"batch"`
	Objective ObjectiveConfig `yaml:"objective" json:"objective"`
	Horizon   HorizonConfig   `yaml:"horizon" json:"horizon"`
	QTime     []types.QTimePair `yaml:"qtime" json:"qtime"`
	Writer    WriterConfig    `yaml:"writer" json:"writer"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Progress  ProgressConfig  `yaml:"progress" json:"progress"`

	FastVerification       bool `yaml:"fast_verification" json:"fast_verification"`
	ExcludeCompletedLots   bool `yaml:"exclude_completed_lots" json:"exclude_completed_lots"`
	ArtifactsDir           string `yaml:"artifacts_dir" json:"artifacts_dir"`
}

// SolverConfig configures the CP Solver Adapter (C3).
type SolverConfig struct {
	MaxTimeSeconds     int  `yaml:"max_time_seconds" json:"max_time_seconds"`
	NumSearchWorkers   int  `yaml:"num_search_workers" json:"num_search_workers"`
	LogSearchProgress  bool `yaml:"log_search_progress" json:"log_search_progress"`
}

// BatchConfig configures the Wave Scheduler's batching policy (C4).
type BatchConfig struct {
	Threshold   int `yaml:"threshold" json:"threshold"`
	InitialSize int `yaml:"initial_size" json:"initial_size"`
	StepSize    int `yaml:"step_size" json:"step_size"`
}

// ObjectiveConfig exposes the weighted-delay tie-break coefficients the
// source hardcoded; see spec §9 Open Questions.
type ObjectiveConfig struct {
	Kind           ObjectiveKind `yaml:"kind" json:"kind"`
	DelayWeight    int           `yaml:"delay_weight" json:"delay_weight"`
	MakespanWeight int           `yaml:"makespan_weight" json:"makespan_weight"`
}

// ObjectiveKind selects the wave objective function (§4.2).
type ObjectiveKind string

const (
	ObjectiveMakespan            ObjectiveKind = "makespan"
	ObjectiveTotalCompletionTime ObjectiveKind = "total_completion_time"
	ObjectiveWeightedDelay       ObjectiveKind = "weighted_delay"
)

// HorizonConfig configures the Model Builder's horizon policy (§4.2).
type HorizonConfig struct {
	BufferMinutes int `yaml:"buffer_minutes" json:"buffer_minutes"`
}

// WriterConfig configures the Result Writer's concurrency model (§4.5).
type WriterConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	PoolSize  int `yaml:"pool_size" json:"pool_size"`
}

// DatabaseConfig holds the Postgres connection parameters for pkg/store.
type DatabaseConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Name            string        `yaml:"name" json:"name"`
	User            string        `yaml:"user" json:"user"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// ProgressConfig configures the optional progress broadcaster (C9).
type ProgressConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	AuthEnabled bool   `yaml:"auth_enabled" json:"auth_enabled"`
	JWTSecret   string `yaml:"jwt_secret" json:"-"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr"`
}

// Default returns a configuration matching the defaults enumerated in
// spec.md §6 and SPEC_FULL.md §6.
func Default() *Config {
	return &Config{
		Solver: SolverConfig{
			MaxTimeSeconds:    30,
			NumSearchWorkers:  8,
			LogSearchProgress: false,
		},
		Batch: BatchConfig{
			Threshold:   30,
			InitialSize: 30,
			StepSize:    3,
		},
		Objective: ObjectiveConfig{
			Kind:           ObjectiveWeightedDelay,
			DelayWeight:    1000,
			MakespanWeight: 1,
		},
		Horizon: HorizonConfig{
			BufferMinutes: 50 * 24 * 60, // 50 days
		},
		QTime: []types.QTimePair{
			{EarlierStep: "STEP3", LaterStep: "STEP4", MaxGapMinutes: 200},
		},
		Writer: WriterConfig{
			ChunkSize: 50,
			PoolSize:  8,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "waveplan",
			User:            "waveplan",
			Password:        "waveplan",
			SSLMode:         "prefer",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Progress: ProgressConfig{
			Addr:        ":8099",
			AuthEnabled: false,
			RedisAddr:   "localhost:6379",
		},
		FastVerification:     true,
		ExcludeCompletedLots: false,
		ArtifactsDir:         "./artifacts",
	}
}

// Load layers a YAML file (if non-empty) over Default(), then applies
// environment variable overrides, matching the exact keys from
// SPEC_FULL.md §6.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Solver.MaxTimeSeconds = getEnvIntOrDefault("SOLVER_MAX_TIME_IN_SECONDS", cfg.Solver.MaxTimeSeconds)
	cfg.Solver.NumSearchWorkers = getEnvIntOrDefault("SOLVER_NUM_SEARCH_WORKERS", cfg.Solver.NumSearchWorkers)
	cfg.Solver.LogSearchProgress = getEnvBoolOrDefault("SOLVER_LOG_SEARCH_PROGRESS", cfg.Solver.LogSearchProgress)

	cfg.Batch.Threshold = getEnvIntOrDefault("INCREMENTAL_BATCH_THRESHOLD", cfg.Batch.Threshold)
	cfg.Batch.InitialSize = getEnvIntOrDefault("INCREMENTAL_BATCH_INITIAL_SIZE", cfg.Batch.InitialSize)
	cfg.Batch.StepSize = getEnvIntOrDefault("INCREMENTAL_BATCH_STEP_SIZE", cfg.Batch.StepSize)

	cfg.FastVerification = getEnvBoolOrDefault("SCHEDULER_FAST_VERIFICATION", cfg.FastVerification)

	cfg.Objective.DelayWeight = getEnvIntOrDefault("OBJECTIVE_DELAY_WEIGHT", cfg.Objective.DelayWeight)
	cfg.Objective.MakespanWeight = getEnvIntOrDefault("OBJECTIVE_MAKESPAN_WEIGHT", cfg.Objective.MakespanWeight)

	cfg.Writer.ChunkSize = getEnvIntOrDefault("WRITER_CHUNK_SIZE", cfg.Writer.ChunkSize)
	cfg.Writer.PoolSize = getEnvIntOrDefault("WRITER_POOL_SIZE", cfg.Writer.PoolSize)

	cfg.Horizon.BufferMinutes = getEnvIntOrDefault("HORIZON_BUFFER_MINUTES", cfg.Horizon.BufferMinutes)

	cfg.Progress.Addr = getEnvOrDefault("PROGRESS_ADDR", cfg.Progress.Addr)
	cfg.Progress.AuthEnabled = getEnvBoolOrDefault("PROGRESS_AUTH_ENABLED", cfg.Progress.AuthEnabled)
	cfg.Progress.RedisAddr = getEnvOrDefault("REDIS_ADDR", cfg.Progress.RedisAddr)
	cfg.Progress.JWTSecret = getEnvOrDefault("PROGRESS_JWT_SECRET", cfg.Progress.JWTSecret)

	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnvOrDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)

	if pairs := os.Getenv("QTIME_PAIRS"); pairs != "" {
		if parsed, err := parseQTimePairs(pairs); err == nil {
			cfg.QTime = parsed
		}
	}

	cfg.ExcludeCompletedLots = getEnvBoolOrDefault("scheduler_exclude_completed_lots", cfg.ExcludeCompletedLots)
	cfg.ArtifactsDir = getEnvOrDefault("ARTIFACTS_DIR", cfg.ArtifactsDir)
}

// parseQTimePairs parses "STEP3:STEP4:200,STEP5:STEP6:60" into pairs.
func parseQTimePairs(raw string) ([]types.QTimePair, error) {
	var out []types.QTimePair
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: malformed QTIME_PAIRS entry %q", entry)
		}
		gap, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("config: malformed QTIME_PAIRS gap in %q: %w", entry, err)
		}
		out = append(out, types.QTimePair{EarlierStep: parts[0], LaterStep: parts[1], MaxGapMinutes: gap})
	}
	return out, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ParseStartTime parses the --start-time CLI flag per SPEC_FULL.md §4.10.
func ParseStartTime(raw string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: invalid --start-time %q: %w", raw, err)
	}
	return t, nil
}
