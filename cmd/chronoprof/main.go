package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/chronoprof/internal/agent"
	"github.com/ethpandaops/chronoprof/internal/export"
	"github.com/ethpandaops/chronoprof/internal/migrate"
	"github.com/ethpandaops/chronoprof/internal/sink/aggregated"
	"github.com/ethpandaops/chronoprof/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chronoprof",
		Short: "Per-frame zone profiler for concurrent render loops",
		Long: `chronoprof records named zones on many goroutines and merges them
into one timeline per frame, feeding the result to console, file,
Chrome trace, HTTP and ClickHouse sinks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String(
		"log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.AddCommand(
		runCmd(),
		inspectCmd(),
		migrateCmd(),
		versionCmd(),
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullWithPlatform())
		},
	}
}

func newLogger(cmd *cobra.Command, fallback string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := fallback

	// CLI flag overrides config file.
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	log.SetLevel(lvl)

	return log, nil
}

func runCmd() *cobra.Command {
	var cfgFile, sectionsCSV string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the profiling agent against the synthetic workload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := agent.DefaultConfig()

			if cfgFile != "" {
				loaded, err := agent.LoadConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}

				cfg = loaded
			}

			log, err := newLogger(cmd, cfg.LogLevel)
			if err != nil {
				return err
			}

			cfg.LogLevel = log.GetLevel().String()

			return run(log, cfg, sectionsCSV)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "path to config file (.yaml or .toml)")
	cmd.Flags().StringVar(&sectionsCSV, "sections-csv", "", "write per-sink handling times to this CSV file on exit")

	return cmd
}

func run(log logrus.FieldLogger, cfg *agent.Config, sectionsCSV string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.Info("Starting chronoprof agent")

	if err := a.Start(ctx); err != nil {
		_ = a.Stop()

		return fmt.Errorf("starting agent: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
		log.Info("Frame limit reached")
	}

	log.Info("Shutting down chronoprof agent")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")

		return fmt.Errorf("stopping agent: %w", err)
	}

	if sectionsCSV != "" {
		if err := writeStatsCSV(sectionsCSV, a.Sections().Stats()); err != nil {
			return fmt.Errorf("writing sections: %w", err)
		}
	}

	log.Info("Shutdown complete")

	return nil
}

func inspectCmd() *cobra.Command {
	var csvPath string

	cfg := aggregated.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Render zone statistics for an exported snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			records, err := export.ReadFile(args[0])
			if err != nil {
				return err
			}

			collector := aggregated.NewCollector(1)
			collector.Update(export.Frame{Records: records})

			if err := aggregated.NewRenderer(cmd.OutOrStdout(), cfg).Render(collector); err != nil {
				return err
			}

			if csvPath == "" {
				return nil
			}

			return writeStatsCSV(csvPath, collector.Stats())
		},
	}

	cmd.Flags().IntVar(&cfg.TopN, "top", 0, "show only the N slowest zones")
	cmd.Flags().StringVar(&cfg.Color, "color", aggregated.ColorAuto, "colour mode (auto, always, never)")
	cmd.Flags().IntVar(&cfg.NameWidth, "name-width", cfg.NameWidth, "zone name column width")
	cmd.Flags().StringVar(&csvPath, "csv", "", "also write per-zone averages to this CSV file")

	return cmd
}

func writeStatsCSV(path string, stats []aggregated.ZoneStats) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if err := aggregated.WriteCSV(f, stats); err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}

func migrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse frame_events schema",
	}

	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "ClickHouse DSN (clickhouse://host:9000/database)")

	if err := cmd.MarkPersistentFlagRequired("dsn"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	newMigrator := func(cmd *cobra.Command) (migrate.Migrator, error) {
		log, err := newLogger(cmd, "info")
		if err != nil {
			return nil, err
		}

		return migrate.New(log, dsn), nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator(cmd)
				if err != nil {
					return err
				}

				return m.Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator(cmd)
				if err != nil {
					return err
				}

				return m.Down(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current migration version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator(cmd)
				if err != nil {
					return err
				}

				v, dirty, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %t\n", v, dirty)

				return nil
			},
		},
	)

	return cmd
}
