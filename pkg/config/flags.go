package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// flagBinding ties a command-line flag to a configuration field
type flagBinding struct {
	name  string
	usage string
	ptr   any
}

func schedulerFlags(c *Scheduler) []flagBinding {
	return []flagBinding{
		{"data-dir", "Directory for the job log and bolt results", &c.DataDir},
		{"api-addr", "Address for the gRPC API", &c.APIAddr},
		{"health-addr", "Address for health, metrics and cluster status (empty disables)", &c.HealthAddr},
		{"unix-socket", "Path for the read-only local API socket (empty disables)", &c.UnixSocket},
		{"schedule-interval", "Assignment sweep period", &c.ScheduleInterval},
		{"metrics-interval", "Gauge refresh period", &c.MetricsInterval},
		{"max-retries", "Times a job may lose its worker before it fails", &c.MaxRetries},
		{"reschedule-backoff", "Delay before a rescheduled job is eligible again (0 disables)", &c.RescheduleBackoff},
		{"reschedule-backoff-max", "Upper bound for the doubling reschedule delay", &c.RescheduleBackoffMax},
		{"health-interval", "Health monitor sweep period", &c.HealthInterval},
		{"heartbeat-grace", "Silence after which a worker is marked offline", &c.HeartbeatGrace},
		{"evict-after", "Time an offline worker is kept before it is forgotten", &c.EvictAfter},
		{"max-job-duration", "Fail jobs running longer than this (0 disables)", &c.MaxJobDuration},
		{"submit-rate", "SubmitJob calls per second per client (0 disables)", &c.SubmitRate},
		{"submit-burst", "SubmitJob burst per client", &c.SubmitBurst},
		{"result-backend", "Result storage: bolt or minio", &c.ResultBackend},
		{"minio-endpoint", "Minio endpoint for the minio result backend", &c.Minio.Endpoint},
		{"minio-bucket", "Minio bucket for results", &c.Minio.Bucket},
		{"log-level", "Log level (debug, info, warn, error)", &c.Log.Level},
		{"log-json", "Output logs in JSON format", &c.Log.JSON},
	}
}

func workerFlags(c *Worker) []flagBinding {
	return []flagBinding{
		{"scheduler", "Scheduler gRPC address", &c.SchedulerAddr},
		{"address", "Address advertised to the scheduler (default: hostname-pid)", &c.Address},
		{"capacity", "Jobs run at once", &c.Capacity},
		{"engine", "Query engine", &c.Engine},
		{"dsn", "Engine data source", &c.EngineConfig.DSN},
		{"batch-size", "Rows per result batch", &c.EngineConfig.BatchSize},
		{"heartbeat-interval", "Heartbeat period", &c.HeartbeatInterval},
		{"reconnect-backoff", "Initial delay before reconnecting to the scheduler", &c.ReconnectBackoff},
		{"metrics-addr", "Metrics HTTP address (disabled when empty)", &c.MetricsAddr},
		{"log-level", "Log level (debug, info, warn, error)", &c.Log.Level},
		{"log-json", "Output logs in JSON format", &c.Log.JSON},
	}
}

// RegisterSchedulerFlags defines the scheduler flags on fs with the default values
func RegisterSchedulerFlags(fs *pflag.FlagSet) {
	registerFlags(fs, schedulerFlags(DefaultScheduler()))
}

// RegisterWorkerFlags defines the worker flags on fs with the default values
func RegisterWorkerFlags(fs *pflag.FlagSet) {
	registerFlags(fs, workerFlags(DefaultWorker()))
}

func registerFlags(fs *pflag.FlagSet, bindings []flagBinding) {
	for _, b := range bindings {
		switch p := b.ptr.(type) {
		case *string:
			fs.String(b.name, *p, b.usage)
		case *int:
			fs.Int(b.name, *p, b.usage)
		case *float64:
			fs.Float64(b.name, *p, b.usage)
		case *bool:
			fs.Bool(b.name, *p, b.usage)
		case *time.Duration:
			fs.Duration(b.name, *p, b.usage)
		default:
			panic(fmt.Sprintf("config: unsupported flag type %T for --%s", b.ptr, b.name))
		}
	}
}

// applyFlags copies the flags set on the command line; defaults never override the
// file or the environment
func applyFlags(fs *pflag.FlagSet, bindings []flagBinding) error {
	for _, b := range bindings {
		f := fs.Lookup(b.name)
		if f == nil || !f.Changed {
			continue
		}

		var err error
		switch p := b.ptr.(type) {
		case *string:
			*p, err = fs.GetString(b.name)
		case *int:
			*p, err = fs.GetInt(b.name)
		case *float64:
			*p, err = fs.GetFloat64(b.name)
		case *bool:
			*p, err = fs.GetBool(b.name)
		case *time.Duration:
			*p, err = fs.GetDuration(b.name)
		}
		if err != nil {
			return fmt.Errorf("flag --%s: %w", b.name, err)
		}
	}
	return nil
}
