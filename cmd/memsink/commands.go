package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/destinations/singlestore"
	"github.com/ajitpratap0/memsink/pkg/connector/registry"
	"github.com/ajitpratap0/memsink/pkg/kafka"
	"github.com/ajitpratap0/memsink/pkg/logger"
	"github.com/ajitpratap0/memsink/pkg/observability"
)

// loadConfig reads the --config file, or the defaults plus environment when
// no file is given.
func loadConfig(cmd *cobra.Command) (*config.SinkConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogger(cfg *config.SinkConfig) (*zap.Logger, error) {
	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Get().With(zap.String("sink", cfg.Name)), nil
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateKafka(); err != nil {
				return err
			}
			if _, err := registry.CreateEncoder(cfg.Load); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}

func newInitConfigCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s already exists", output)
			}
			if err := config.Save(output, config.NewSinkConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "memsink.yaml", "Path of the configuration file to create")
	return cmd
}

func newListEncodersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-encoders",
		Short: "List available record encoders",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range registry.ListEncoders() {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", name)
			}
		},
	}
}

func newInitMetadataCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-metadata",
		Short: "Create the batch marker table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := initLogger(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			connector, err := singlestore.NewConnector(cfg.Connection, log)
			if err != nil {
				return err
			}
			defer connector.Close()

			tables := singlestore.NewTableManager(connector.DDL(), cfg.Load.MetadataTable, log)
			return tables.EnsureMetadataTable(ctx)
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the configured topics into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateKafka(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSink(ctx, cfg)
		},
	}
}

// runSink wires the store, encoder, writer and consumer and blocks until ctx
// ends or a batch fails permanently.
func runSink(ctx context.Context, cfg *config.SinkConfig) error {
	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    cfg.Name,
			ServiceVersion: version,
			SamplingRate:   cfg.Observability.TracingSampleRate,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv := serveMetrics(addr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	connector, err := singlestore.NewConnector(cfg.Connection, log)
	if err != nil {
		return err
	}
	defer connector.Close()

	if err := connector.Ping(ctx); err != nil {
		return err
	}

	tables := singlestore.NewTableManager(connector.DDL(), cfg.Load.MetadataTable, log)
	if err := tables.EnsureMetadataTable(ctx); err != nil {
		return err
	}

	encoder, err := registry.CreateEncoder(cfg.Load)
	if err != nil {
		return err
	}

	writer, err := singlestore.NewWriter(cfg.Load, connector, tables, encoder, log)
	if err != nil {
		return err
	}

	log.Info("starting sink",
		zap.String("encoding", encoder.Name()),
		zap.String("compression", string(writer.Codec().Algorithm())),
		zap.String("metadata_table", cfg.Load.MetadataTable),
		zap.Int("batch_size", cfg.Kafka.BatchSize),
		zap.Duration("flush_interval", cfg.Kafka.FlushInterval))

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Reliability, writer, tables, log)
	if err := consumer.Run(ctx); err != nil {
		return err
	}

	log.Info("sink stopped")
	return nil
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
