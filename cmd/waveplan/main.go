package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/engine"
	"github.com/foundrypath/waveplan/pkg/loader"
	"github.com/foundrypath/waveplan/pkg/progress"
	"github.com/foundrypath/waveplan/pkg/solver"
	"github.com/foundrypath/waveplan/pkg/store"
	"github.com/foundrypath/waveplan/pkg/writer"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "waveplan",
		Short:   "Incremental production-line scheduling engine",
		Version: version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var startTimeRaw string
	var configPath string
	var fastVerification bool
	var progressAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one end-to-end scheduling pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			if startTimeRaw == "" {
				return fmt.Errorf("--start-time is required")
			}
			origin, err := config.ParseStartTime(startTimeRaw)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("fast-verification") {
				cfg.FastVerification = fastVerification
			}
			if cmd.Flags().Changed("progress-addr") {
				cfg.Progress.Addr = progressAddr
			}

			return runEngine(cfg, origin)
		},
	}

	cmd.Flags().StringVar(&startTimeRaw, "start-time", "", `wave origin, "YYYY-MM-DD HH:MM:SS" (required)`)
	cmd.Flags().StringVarP(&configPath, "config", "f", "", "optional YAML config file")
	cmd.Flags().BoolVar(&fastVerification, "fast-verification", true, "drop objective, solve feasibility only")
	cmd.Flags().StringVar(&progressAddr, "progress-addr", ":8099", "progress broadcaster listen address")

	return cmd
}

// exit codes: 0 on success, a distinct non-zero code per failing stage.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitLoaderError    = 3
	exitSolverFailure  = 4
	exitWriterError    = 5
	exitArtifactError  = 6
)

func runEngine(cfg *config.Config, origin time.Time) error {
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	mgr, err := store.NewManager(cfg.Database, logger)
	if err != nil {
		os.Exit(exitConfigError)
		return err
	}
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Info().Msg("waveplan: shutdown signal received")
		cancel()
	}()

	broadcaster := progress.NewBroadcaster(cfg.Progress.RedisAddr, logger)
	go broadcaster.Run(ctx)
	defer broadcaster.Close()

	progressSrv, err := progress.NewServer(cfg.Progress, broadcaster, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := progressSrv.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("waveplan: progress server stopped")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		progressSrv.Stop(shutdownCtx)
	}()

	e := engine.New(cfg, mgr, broadcaster, logger)
	summary, err := e.Run(ctx, origin)
	if err != nil {
		os.Exit(classifyExitCode(err))
		return err
	}

	logger.Info().Str("schedule_id", summary.ScheduleID).Int("lots", summary.LotsLoaded).
		Int("waves", summary.WavesRun).Int("failures", summary.WaveFailures).
		Dur("duration", summary.Duration).Msg("waveplan: run finished")
	return nil
}

// classifyExitCode maps the failing stage's error type to its exit code
// above; an error of any other type maps to exitArtifactError.
func classifyExitCode(err error) int {
	var loaderErr *loader.LoadJobsError
	if errors.As(err, &loaderErr) {
		return exitLoaderError
	}
	var solverErr *solver.Failure
	if errors.As(err, &solverErr) {
		return exitSolverFailure
	}
	var writerErr *writer.Error
	if errors.As(err, &writerErr) {
		return exitWriterError
	}
	return exitArtifactError
}
