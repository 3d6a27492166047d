package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/flowmux/internal/config"
	"github.com/jmylchreest/flowmux/internal/database"
	"github.com/jmylchreest/flowmux/internal/engine"
	"github.com/jmylchreest/flowmux/internal/history"
	"github.com/jmylchreest/flowmux/internal/jobspec"
	"github.com/jmylchreest/flowmux/internal/observability"
	"github.com/jmylchreest/flowmux/internal/pipeline"
	"github.com/jmylchreest/flowmux/internal/pool"
	"github.com/jmylchreest/flowmux/internal/sysinfo"
)

var runCmd = &cobra.Command{
	Use:   "run <jobspec.yaml>",
	Short: "Run a transcoding job",
	Long: `Run a transcoding job described by a YAML job file.

The job file maps one input to any number of outputs. Each output selects
the streams it wants and may declare a filter chain per stream. Outputs
fail independently: a broken encoder takes down its own file while the
others finish.

Send SIGINT or SIGTERM to stop cooperatively; buffered packets already
accepted by the outputs are flushed before exit.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("output-dir", "", "Directory for output files")
	runCmd.Flags().Int("queue-capacity", 0, "Depth of every stage-to-stage queue")
	runCmd.Flags().Int("contexts", 0, "Number of execution contexts (0 = one per stage)")
	runCmd.Flags().Int("lookahead", 0, "Per-stream lookahead window in the output merge queues")
	runCmd.Flags().Bool("no-history", false, "Do not record this run in the history database")

	mustBindPFlag("storage.output_dir", runCmd.Flags().Lookup("output-dir"))
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyEngineFlags(cmd, &cfg.Engine)
	if dir := viper.GetString("storage.output_dir"); dir != "" {
		cfg.Storage.OutputDir = dir
	}

	spec, err := jobspec.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading job file: %w", err)
	}

	engCfg := engine.Config{
		QueueCapacity:     cfg.Engine.QueueCapacity,
		ExecutionContexts: cfg.Engine.ExecutionContexts,
		LookaheadWindow:   cfg.Engine.LookaheadWindow,
	}
	if engCfg.ExecutionContexts == 0 {
		engCfg.ExecutionContexts = sysinfo.DefaultExecutionContexts(cmd.Context())
	}

	p := pool.New()
	defer p.Close()

	job, err := pipeline.NewBuilder().
		WithSpec(spec).
		WithEngineConfig(engCfg).
		WithPool(p).
		WithOutputDir(cfg.Storage.OutputDir).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	defer job.Close()

	logger.Info("starting job",
		slog.String("input", spec.Input),
		slog.Int("outputs", len(spec.Outputs)),
		slog.Any("streams", job.Streams()),
		slog.Int("execution_contexts", engCfg.ExecutionContexts),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal stops cooperatively, a second one aborts.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-runCtx.Done():
			return
		}
		logger.Info("stop requested, draining", slog.Duration("gracetime", cfg.Engine.ShutdownGracetime))
		go job.RequestStop()
		select {
		case <-sigCh:
		case <-time.After(cfg.Engine.ShutdownGracetime):
		case <-runCtx.Done():
			return
		}
		cancel()
	}()

	started := time.Now()
	result, err := job.Run(runCtx)
	if err != nil {
		return fmt.Errorf("running job: %w", err)
	}

	reportResult(logger, result)
	recordHistory(cmd, cfg, logger, result, spec, started)

	if result.Status == engine.StatusFailed {
		return fmt.Errorf("job failed: %w", result.Err)
	}
	return nil
}

// applyEngineFlags overrides engine settings with explicitly set CLI flags.
func applyEngineFlags(cmd *cobra.Command, eng *config.EngineConfig) {
	if cmd.Flags().Changed("queue-capacity") {
		eng.QueueCapacity, _ = cmd.Flags().GetInt("queue-capacity")
	}
	if cmd.Flags().Changed("contexts") {
		eng.ExecutionContexts, _ = cmd.Flags().GetInt("contexts")
	}
	if cmd.Flags().Changed("lookahead") {
		eng.LookaheadWindow, _ = cmd.Flags().GetInt("lookahead")
	}
}

// reportResult logs the outcome and writes the structured result to stdout.
func reportResult(logger *slog.Logger, result *engine.Result) {
	log := observability.WithRunID(logger, result.RunID)
	switch result.Status {
	case engine.StatusSuccess:
		log.Info("job finished", slog.Duration("duration", result.Duration))
	case engine.StatusPartial:
		observability.WithError(log, result.Err).Warn("job finished with failed outputs",
			slog.Duration("duration", result.Duration))
	case engine.StatusCancelled:
		log.Info("job cancelled", slog.Duration("duration", result.Duration))
	default:
		observability.WithError(log, result.Err).Error("job failed",
			slog.Duration("duration", result.Duration))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Warn("writing result", slog.Any("error", err))
	}
}

// recordHistory persists the run outcome when history is enabled. Failures
// here never fail the job itself.
func recordHistory(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, result *engine.Result, spec *jobspec.Spec, started time.Time) {
	if noHistory, _ := cmd.Flags().GetBool("no-history"); noHistory || !cfg.History.Enabled {
		return
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		logger.Warn("opening history database", slog.Any("error", err))
		return
	}
	defer db.Close()

	repo, err := history.NewRepository(db.DB)
	if err != nil {
		logger.Warn("preparing history schema", slog.Any("error", err))
		return
	}

	ctx, cancelRecord := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelRecord()

	if _, err := repo.Record(ctx, result, spec.Input, len(spec.Outputs), started); err != nil {
		logger.Warn("recording run history", slog.Any("error", err))
		return
	}
	if removed, err := repo.Prune(ctx, time.Duration(cfg.History.Retention)); err != nil {
		logger.Warn("pruning run history", slog.Any("error", err))
	} else if removed > 0 {
		logger.Debug("pruned run history", slog.Int64("removed", removed))
	}
}
