package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/config"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/server"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/supervisor"
)

const defaultConfigPath = "configs/config.yaml"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "voz-relay",
	Short:         "Relay push-to-talk audio to live transcript viewers",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		validateCmd(),
		versionCmd(),
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration %s is valid\n", configPath)
			fmt.Fprintf(out, "  datagram ingest: %v (%s:%d)\n", cfg.Ingest.Datagram.Enabled, cfg.Ingest.Datagram.BindAddress, cfg.Ingest.Datagram.Port)
			fmt.Fprintf(out, "  session ingest:  %v (%s:%d)\n", cfg.Ingest.Session.Enabled, cfg.Ingest.Session.BindAddress, cfg.Ingest.Session.Port)
			fmt.Fprintf(out, "  viewers/api:     %s\n", cfg.HTTP.ListenAddress())
			fmt.Fprintf(out, "  segment:         %d bytes\n", cfg.Audio.SegmentThreshold())
			fmt.Fprintf(out, "  recognition:     %s (%s)\n", cfg.Recognition.Provider, cfg.Recognition.Language)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", server.ServiceName, server.Version)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	return cfg, nil
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog()

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.Version),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.Bool("datagram_ingest", cfg.Ingest.Datagram.Enabled),
		slog.Int("datagram_port", cfg.Ingest.Datagram.Port),
		slog.Bool("session_ingest", cfg.Ingest.Session.Enabled),
		slog.Int("session_port", cfg.Ingest.Session.Port),
		slog.String("http_address", cfg.HTTP.ListenAddress()),
		slog.Int("segment_bytes", cfg.Audio.SegmentThreshold()),
		slog.String("recognition_provider", cfg.Recognition.Provider),
		slog.String("language", cfg.Recognition.Language),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(cfg, logger, supervisor.Deps{})
	if err != nil {
		logger.Error("Failed to build relay", slog.String("error", err.Error()))
		return err
	}

	if err := sup.Start(ctx); err != nil {
		logger.Error("Failed to start relay", slog.String("error", err.Error()))
		sup.Shutdown(context.Background())
		return err
	}

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	stop()

	report := sup.Shutdown(context.Background())
	if !report.Clean() {
		logger.Warn("Some components were abandoned during shutdown",
			slog.Any("abandoned", report.Abandoned),
		)
	}

	logger.Info("Service stopped")
	return nil
}
