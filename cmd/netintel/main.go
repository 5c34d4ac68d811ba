package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/engine"
	"github.com/aegisshield/network-intel/internal/metrics"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

type analyzeOptions struct {
	ConfigPath  string
	InputPath   string
	OutputPath  string
	MetricsAddr string
	Pretty      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "netintel",
		Short:         "Provider network fraud analysis",
		Version:       fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAnalyzeCommand())
	return root
}

func newAnalyzeCommand() *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a provider snapshot and write a JSON report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./config.yaml)")
	flags.StringVarP(&opts.InputPath, "input", "i", "-", "snapshot JSON file, - for stdin")
	flags.StringVarP(&opts.OutputPath, "output", "o", "-", "report JSON file, - for stdout")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address while the analysis runs")
	flags.BoolVar(&opts.Pretty, "pretty", false, "indent the JSON report")

	return cmd
}

func runAnalyze(parent context.Context, opts *analyzeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.ListenAddr = opts.MetricsAddr
	}

	logger := newLogger(cfg.Logging)
	logger.Info("Starting network analysis CLI",
		"version", Version,
		"input", opts.InputPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(cfg.Metrics.Namespace, registry)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.ListenAddr != "" {
		shutdown := startMetricsServer(cfg.Metrics.ListenAddr, registry, logger)
		defer shutdown()
	}

	snapshot, err := readSnapshot(opts.InputPath)
	if err != nil {
		return err
	}

	e, err := engine.New(cfg.Analysis, collector, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	report, err := e.Analyze(ctx, snapshot)
	if err != nil {
		logger.Error("Analysis failed", "error", err)
		return err
	}

	if err := writeReport(opts.OutputPath, report, opts.Pretty); err != nil {
		return err
	}

	logger.Info("Report written",
		"report_id", report.ID,
		"output", opts.OutputPath,
		"duration", report.Duration)

	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	// Logs go to stderr so the report can be piped from stdout
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger *slog.Logger) func() {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}
}

func readSnapshot(path string) (*models.Snapshot, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer f.Close()
		r = f
	}

	var snapshot models.Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

func writeReport(path string, report *models.AnalysisReport, pretty bool) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
