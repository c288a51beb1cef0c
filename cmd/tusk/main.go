package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tuskdata/tusk/pkg/api"
	"github.com/tuskdata/tusk/pkg/config"
	"github.com/tuskdata/tusk/pkg/engine"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/manager"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/reconciler"
	"github.com/tuskdata/tusk/pkg/storage"
	"github.com/tuskdata/tusk/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tusk",
	Short: "Tusk - distributed query scheduler",
	Long: `Tusk accepts analytical queries as jobs, hands them to a pool of workers,
tracks every job through a durable log and streams results back.

Run one scheduler, any number of workers, and use the job commands to
submit and follow queries.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Tusk version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(workerCmd)
}

func initLogging(cfg config.Log) {
	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Level),
		JSONOutput: cfg.JSON,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the scheduler",
	Long: `Run the scheduler: the durable job log, worker registry, health monitor
and assignment engine behind the gRPC API.

Jobs left running by a previous run are requeued on startup.`,
	RunE: runScheduler,
}

func init() {
	schedulerCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	config.RegisterSchedulerFlags(schedulerCmd.Flags())
}

func runScheduler(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadScheduler(path, cmd.Flags())
	if err != nil {
		return err
	}
	initLogging(cfg.Log)
	metrics.SetVersion(Version)

	mgr, err := manager.NewManager(&manager.Config{
		DataDir: cfg.DataDir,
		Jobs: jobs.Config{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RescheduleBackoff,
			BackoffMax: cfg.RescheduleBackoffMax,
		},
		Health: reconciler.Config{
			Interval:       cfg.HealthInterval,
			HeartbeatGrace: cfg.HeartbeatGrace,
			EvictAfter:     cfg.EvictAfter,
			MaxJobDuration: cfg.MaxJobDuration,
		},
		ScheduleInterval: cfg.ScheduleInterval,
		MetricsInterval:  cfg.MetricsInterval,
		ResultBackend:    cfg.ResultBackend,
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			Bucket:    cfg.Minio.Bucket,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := mgr.Start(); err != nil {
		_ = mgr.Shutdown()
		return err
	}

	apiServer := api.NewServer(mgr, api.Config{
		SubmitRate:  cfg.SubmitRate,
		SubmitBurst: cfg.SubmitBurst,
	})
	errCh := make(chan error, 3)
	go func() {
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	if cfg.UnixSocket != "" {
		go func() {
			if err := apiServer.StartUnix(cfg.UnixSocket); err != nil {
				errCh <- fmt.Errorf("unix socket error: %w", err)
			}
		}()
	}

	var healthServer *api.HealthServer
	if cfg.HealthAddr != "" {
		healthServer = api.NewHealthServer(mgr)
		go func() {
			if err := healthServer.Start(cfg.HealthAddr); err != nil {
				errCh <- fmt.Errorf("health server error: %w", err)
			}
		}()
	}

	log.Logger.Info().
		Str("api_addr", cfg.APIAddr).
		Str("health_addr", cfg.HealthAddr).
		Str("data_dir", cfg.DataDir).
		Str("result_backend", cfg.ResultBackend).
		Msg("Scheduler is running")

	ctx, stop := signalContext()
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		log.Logger.Info().Msg("Shutting down")
	case runErr = <-errCh:
		log.Logger.Error().Err(runErr).Msg("Shutting down after server error")
	}

	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Logger.Warn().Err(err).Msg("Health server shutdown")
		}
		cancel()
	}
	apiServer.Stop()
	if err := mgr.Shutdown(); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to shutdown: %w", err))
	}
	return runErr
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker",
	Long: `Run a worker that registers with the scheduler and executes assigned
queries on the configured engine.

Engines: sqlite (database/sql against --dsn) and synthetic (generated rows,
for development clusters).`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	config.RegisterWorkerFlags(workerCmd.Flags())
}

func runWorker(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWorker(path, cmd.Flags())
	if err != nil {
		return err
	}
	initLogging(cfg.Log)

	w, err := worker.NewWorker(&worker.Config{
		SchedulerAddr:     cfg.SchedulerAddr,
		Address:           cfg.Address,
		Capacity:          cfg.Capacity,
		Engine:            cfg.Engine,
		EngineConfig:      cfg.EngineConfig,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectBackoff:  cfg.ReconnectBackoff,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker (engines: %v): %w", engine.Names(), err)
	}

	ctx, stop := signalContext()
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = w.Start(startCtx)
	cancel()
	if err != nil {
		_ = w.Stop()
		return err
	}

	log.Logger.Info().
		Str("worker_id", w.ID()).
		Str("scheduler", cfg.SchedulerAddr).
		Str("engine", cfg.Engine).
		Int("capacity", cfg.Capacity).
		Msg("Worker is running")

	var healthServer *api.HealthServer
	if cfg.MetricsAddr != "" {
		metrics.SetVersion(Version)
		metrics.SetCriticalComponents(metrics.ComponentWorker)
		metrics.UpdateComponent(metrics.ComponentWorker, true, "")
		healthServer = api.NewHealthServer(nil)
		go func() {
			if err := healthServer.Start(cfg.MetricsAddr); err != nil {
				log.Logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	<-ctx.Done()
	log.Logger.Info().Msg("Shutting down")
	if healthServer != nil {
		metrics.UpdateComponent(metrics.ComponentWorker, false, "stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = healthServer.Shutdown(shutdownCtx)
		cancel()
	}
	return w.Stop()
}
