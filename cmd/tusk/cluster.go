package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/supervisor"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run a local development cluster",
}

var clusterUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a scheduler and workers as child processes",
	Long: `Start one scheduler and N workers from this binary and keep them running
until interrupted. If any process exits on its own the whole cluster is
stopped.

Examples:
  tusk cluster up
  tusk cluster up --workers 5 --engine sqlite --dsn file:demo.db`,
	RunE: runClusterUp,
}

func init() {
	def := supervisor.DefaultConfig()
	clusterUpCmd.Flags().Int("workers", def.Workers, "Number of workers")
	clusterUpCmd.Flags().Int("capacity", def.Capacity, "Concurrent jobs per worker")
	clusterUpCmd.Flags().String("engine", def.Engine, "Worker execution engine")
	clusterUpCmd.Flags().String("dsn", "", "Engine data source name")
	clusterUpCmd.Flags().String("data-dir", def.DataDir, "Cluster data directory")
	clusterUpCmd.Flags().String("api-addr", def.APIAddr, "Scheduler API address")
	clusterUpCmd.Flags().String("health-addr", def.HealthAddr, "Scheduler health and metrics address")
	clusterUpCmd.Flags().String("log-level", def.LogLevel, "Log level of the cluster processes")
	clusterUpCmd.Flags().Bool("quiet", false, "Do not mirror process logs")

	clusterCmd.AddCommand(clusterUpCmd)
	rootCmd.AddCommand(clusterCmd)
}

func runClusterUp(cmd *cobra.Command, args []string) error {
	cfg := supervisor.DefaultConfig()
	cfg.Workers, _ = cmd.Flags().GetInt("workers")
	cfg.Capacity, _ = cmd.Flags().GetInt("capacity")
	cfg.Engine, _ = cmd.Flags().GetString("engine")
	cfg.DSN, _ = cmd.Flags().GetString("dsn")
	cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.APIAddr, _ = cmd.Flags().GetString("api-addr")
	cfg.HealthAddr, _ = cmd.Flags().GetString("health-addr")
	cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		cfg.Output = os.Stderr
	}

	log.Init(log.Config{Level: log.ParseLevel("info")})

	s, err := supervisor.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cluster: %w", err)
	}
	fmt.Printf("Cluster is up: scheduler at %s with %d workers. Press Ctrl+C to stop.\n", cfg.APIAddr, cfg.Workers)

	waitErr := s.Wait(ctx)
	if waitErr != nil {
		log.Logger.Error().Err(waitErr).Msg("Stopping cluster")
	}
	if err := s.Stop(); err != nil {
		return err
	}
	return waitErr
}
