package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opentargets/otter/pkg/config"
	"github.com/opentargets/otter/pkg/coordinator"
	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/metrics"
	"github.com/opentargets/otter/pkg/registry"
	"github.com/opentargets/otter/pkg/scratchpad"
	"github.com/opentargets/otter/pkg/step"
	"github.com/opentargets/otter/pkg/tasks"
	"github.com/opentargets/otter/pkg/worker"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
)

// shutdownGraceTimeout is the context deadline handed to Pool.Shutdown after
// the coordinator finishes or fails. The pool force-kills stragglers after
// its own 5s grace, which expires first, so this is only an outer bound.
const shutdownGraceTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:     "otter",
	Short:   "Otter runs a dynamic task DAG to produce a reproducible release bundle",
	Version: Version,
	RunE:    runStep,
}

func init() {
	rootCmd.Flags().StringP("step", "s", "", "step YAML file to run (required)")
	rootCmd.Flags().StringP("config", "c", "", "run config YAML file (required)")
	rootCmd.Flags().StringP("work-path", "w", "", "local work directory, overrides config's work_path")
	rootCmd.Flags().String("metrics-addr", "", "address to serve /metrics, /health, /ready on (empty disables)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error), overrides config's log_level")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON instead of console text")
	_ = rootCmd.MarkFlagRequired("step")
	_ = rootCmd.MarkFlagRequired("config")
}

func runStep(cmd *cobra.Command, _ []string) error {
	stepPath, _ := cmd.Flags().GetString("step")
	configPath, _ := cmd.Flags().GetString("config")
	workPath, _ := cmd.Flags().GetString("work-path")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workPath != "" {
		cfg.WorkPath = workPath
	}
	if logLevel != "" {
		cfg.LogLevel = log.Level(logLevel)
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: logJSON})
	metrics.SetVersion(Version)

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	specs, err := step.LoadSpecs(stepPath)
	if err != nil {
		return err
	}
	stepName := cfg.Step
	if stepName == "" {
		stepName = specNameFromPath(stepPath)
	}

	ctx, cancel := signalContext()
	defer cancel()

	steps := cfg.Steps
	if len(steps) == 0 {
		steps = []string{stepName}
	}
	manager, err := manifest.New(ctx, cfg.RunnerName, steps, cfg)
	if err != nil {
		return err
	}
	metrics.RegisterComponent("manifest", true, "loaded")
	defer manager.Close()

	global := scratchpad.New()
	reg := registry.New(cfg, global)
	tasks.Register(reg)

	pool, err := worker.NewPool(cfg.PoolSize, spawnWorker())
	if err != nil {
		return err
	}
	metrics.RegisterComponent("storage", true, "ready")

	s := step.New(stepName, specs)
	coord := coordinator.New(s, reg, pool, global)
	metrics.RegisterComponent("coordinator", true, "running")

	runErr := coord.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGraceTimeout)
	defer shutdownCancel()
	pool.Shutdown(shutdownCtx)

	result, completeErr := manager.Complete(context.Background(), stepName, s.Manifest)
	if completeErr != nil {
		if runErr != nil {
			return runErr
		}
		return completeErr
	}

	log.Logger.Info().Str("step", stepName).Str("result", string(result)).Msg("run finished")

	if runErr != nil {
		return runErr
	}
	if result == manifest.ResultFailure {
		return fmt.Errorf("step %q finished with failures: %w", stepName, errs.ErrStepFailed)
	}
	return nil
}

func specNameFromPath(path string) string {
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for i, r := range base {
		if r == '.' {
			return base[:i]
		}
	}
	return base
}

// signalContext returns a context canceled on SIGINT/SIGTERM, the external
// termination case from spec.md's cancellation model.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Warn("received termination signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	log.Logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Error().Err(err).Msg("metrics server stopped")
	}
}
