// Package main is the entry point for the relay binary.
// It runs the telemetry export channel: records are processed, batched,
// compressed and shipped to the configured ingestion endpoint.
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

	"github.com/signalhouse/relay/pkg/channel"
	"github.com/signalhouse/relay/pkg/config"
	"github.com/signalhouse/relay/pkg/logging"
	"github.com/signalhouse/relay/pkg/processor"
	"github.com/signalhouse/relay/pkg/telemetry"
	"github.com/signalhouse/relay/pkg/transmission"
)

const (
	defaultLogLevel        = "info"
	shutdownTimeout        = 10 * time.Second
	defaultMetricsAddr     = ""
	metricsShutdownTimeout = 2 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for relay
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Telemetry export channel",
		Long: `Relay buffers telemetry records, runs them through the configured
processor chain and ships compressed batches to an ingestion endpoint,
spilling to disk when the endpoint is unavailable.

Example:
  relay --config relay.yaml`,
		RunE: runRelay,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")
	rootCmd.Flags().String("metrics-addr", defaultMetricsAddr, "Address to serve Prometheus metrics on (empty disables)")

	return rootCmd
}

// buildChannelOptions converts the loaded channel configuration into channel
// options.
func buildChannelOptions(cfg *config.ChannelConfig) channel.Options {
	var backoff transmission.BackoffPolicy
	if cfg.BackoffPolicy == config.BackoffStatic {
		backoff = transmission.NewStaticBackoff(cfg.BackoffInterval)
	} else {
		backoff = transmission.NewExponentialBackoff()
	}
	return channel.Options{
		Endpoint:          cfg.Endpoint,
		MaxBatchSize:      cfg.MaxBatchSize,
		FlushInterval:     cfg.FlushInterval,
		StorageFolder:     cfg.StorageFolder,
		DiskCapacityKB:    int64(cfg.DiskCapacityMB) * 1024,
		MaxInstantRetries: cfg.MaxInstantRetries,
		Throttling:        !cfg.DisableThrottling,
		Backoff:           backoff,
		NetworkWorkers:    cfg.NetworkWorkers,
		LoaderWorkers:     cfg.LoaderWorkers,
		MaxRedirects:      cfg.MaxRedirects,
	}
}

// runRelay is the main entry point for the relay command
func runRelay(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	if configPath == "" {
		return fmt.Errorf("no configuration specified. Use: relay --config <file>")
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}
	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}

	provider, err := config.NewFileProvider(configPath, nil)
	if err != nil {
		return err
	}
	defer provider.Close()
	cfg := provider.Current()

	if logLevel == "" {
		logLevel = cfg.Logging.Level
	}
	if logLevel == "" {
		logLevel = defaultLogLevel
	}
	logger := logging.Setup(logging.Config{
		Level:  logLevel,
		Pretty: cfg.Logging.Pretty,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName: "relay",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to set up tracing", "error", err)
		return err
	}

	chain, err := processor.NewChain(cfg.Processors, logger)
	if err != nil {
		logger.Error("Failed to build processor chain", "error", err)
		return err
	}

	ch, err := channel.New(buildChannelOptions(&cfg.Channel), chain, logger)
	if err != nil {
		logger.Error("Failed to build channel", "error", err)
		return err
	}
	ch.Start()

	logger.Info("Starting relay",
		"endpoint", cfg.Channel.Endpoint,
		"processors", chain.Len(),
		"log_level", logLevel,
	)

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", ch.Metrics().Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Serving metrics", "addr", metricsAddr)
	}

	// Apply live buffer reconfiguration from config reloads.
	updates := provider.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				ch.Reconfigure(next.Channel.MaxBatchSize, next.Channel.FlushInterval)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := ch.Stop(stopCtx); err != nil {
		logger.Error("Channel shutdown incomplete", "error", err)
	}
	if metricsSrv != nil {
		mCtx, mCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		if err := metricsSrv.Shutdown(mCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
		mCancel()
	}
	if err := shutdownTracing(stopCtx); err != nil {
		logger.Warn("Tracer shutdown failed", "error", err)
	}

	logger.Info("Relay stopped")
	return nil
}
