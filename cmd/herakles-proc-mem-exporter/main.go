package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/herakles-io/herakles-proc-mem-exporter/internal/aggregation"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/cache"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/classifier"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/cpusampler"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/health"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/httpserver"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/memparser"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/metrics"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/procsource"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/rules"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/scanner"
	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

var configFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "herakles-proc-mem-exporter",
		Short:   "Per-process memory and CPU telemetry exporter",
		Version: fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, Commit),
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	root.AddCommand(serveCmd())
	root.AddCommand(validateConfigCmd())
	root.AddCommand(versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the exporter, serving scrapes until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			fmt.Printf("configuration OK (port=%d bind=%s parallelism=%d)\n", cfg.Port, cfg.Bind, cfg.Parallelism)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s (built %s, commit %s)\n", Version, BuildTime, Commit)
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting herakles-proc-mem-exporter",
		zap.String("version", Version), zap.String("build_time", BuildTime), zap.String("commit", Commit))

	cls, err := classifier.Load(rules.DefaultSubgroupsTOML, cfg.RulesFile, "/etc/herakles/subgroups.toml")
	if err != nil {
		return fmt.Errorf("load classification rules: %w", err)
	}

	healthMonitor := health.NewMonitor([]health.BufferConfig{
		{Name: "io", CapacityKB: cfg.IOBufferKB, WarnPercent: 75, CriticalPercent: 95},
		{Name: "smaps", CapacityKB: cfg.SmapsBufferKB, WarnPercent: 75, CriticalPercent: 95},
		{Name: "smaps_rollup", CapacityKB: cfg.SmapsRollupBufferKB, WarnPercent: 75, CriticalPercent: 95},
	})

	source := procsource.NewFSSource(procsource.FSConfig{
		Root:                cfg.ProcRoot,
		IOBufferKB:          cfg.IOBufferKB,
		SmapsBufferKB:       cfg.SmapsBufferKB,
		SmapsRollupBufferKB: cfg.SmapsRollupBufferKB,
		Observer:            healthMonitor,
	})

	rollupAvailable := memparser.Probe(source.ReadMemorySummary, os.Getpid()).RollupAvailable
	logger.Info("memory read capability probed", zap.Bool("smaps_rollup_available", rollupAvailable))

	sampler := cpusampler.New(cfg.Parallelism, clockTicksPerSecond(), runtime.NumCPU())

	sc := scanner.New(source, cls, sampler, rollupAvailable, scanner.Config{
		Parallelism: cfg.Parallelism,
		Aggregation: aggregation.Config{TopNSubgroup: cfg.TopNSubgroup, TopNOthers: cfg.TopNOthers},
		Filter: classifier.NewFilterPolicy(
			classifier.SearchMode(cfg.SearchMode), cfg.SearchGroups, cfg.DisableOthers, cfg.MinUSSKB,
		),
	}, logger)

	snapshotCache := cache.New(time.Duration(cfg.CacheTTLSeconds)*time.Second, sc.Scan, logger)

	collector := metrics.NewWithEmitConfig(snapshotCache, snapshotCache, healthMonitor, metrics.EmitConfig{
		RSS: cfg.EnableRSS,
		PSS: cfg.EnablePSS,
		USS: cfg.EnableUSS,
		CPU: cfg.EnableCPU,
	})
	prometheus.MustRegister(collector)

	srv, err := httpserver.New(httpserver.Options{
		Bind:         cfg.Bind,
		Port:         cfg.Port,
		EnableTLS:    cfg.EnableTLS,
		TLSCertPath:  cfg.TLSCertPath,
		TLSKeyPath:   cfg.TLSKeyPath,
		Config:       cfg,
		RuleGroups:   cls.Groups(),
		Health:       healthMonitor,
		EnableHealth: cfg.EnableHealth,
	}, logger)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.EnableTelemetry {
		go snapshotCache.RunBackground(ctx, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("herakles-proc-mem-exporter started", zap.Int("port", cfg.Port), zap.String("bind", cfg.Bind))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		serveErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}

func setupLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// clockTicksPerSecond returns the kernel's USER_HZ, nearly always 100
// on Linux. Go's runtime doesn't expose sysconf(_SC_CLK_TCK)
// directly, and no pack library wraps it either, so this is the one
// constant the ambient stack doesn't source from a library.
func clockTicksPerSecond() float64 {
	return 100
}
