// Package config loads scheduler and worker configuration. Sources are layered in order:
// built-in defaults, a YAML file, TUSK_* environment variables, explicitly set flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"github.com/tuskdata/tusk/pkg/engine"
	"github.com/tuskdata/tusk/pkg/types"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TUSK_DATA_DIR
const EnvPrefix = "TUSK"

// Log configures pkg/log
type Log struct {
	Level string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json" envconfig:"JSON"`
}

// Minio configures the minio result backend
type Minio struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

// Scheduler is the configuration of `tusk scheduler`
type Scheduler struct {
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	APIAddr    string `yaml:"api_addr" envconfig:"API_ADDR" validate:"required,hostname_port"`
	HealthAddr string `yaml:"health_addr" envconfig:"HEALTH_ADDR" validate:"omitempty,hostname_port"`
	UnixSocket string `yaml:"unix_socket" envconfig:"UNIX_SOCKET"`

	ScheduleInterval time.Duration `yaml:"schedule_interval" envconfig:"SCHEDULE_INTERVAL" validate:"gt=0"`
	MetricsInterval  time.Duration `yaml:"metrics_interval" envconfig:"METRICS_INTERVAL" validate:"gt=0"`

	// Retry policy
	MaxRetries           int           `yaml:"max_retries" envconfig:"MAX_RETRIES" validate:"gte=0"`
	RescheduleBackoff    time.Duration `yaml:"reschedule_backoff" envconfig:"RESCHEDULE_BACKOFF" validate:"gte=0"`
	RescheduleBackoffMax time.Duration `yaml:"reschedule_backoff_max" envconfig:"RESCHEDULE_BACKOFF_MAX" validate:"gte=0"`

	// Health monitor
	HealthInterval time.Duration `yaml:"health_interval" envconfig:"HEALTH_INTERVAL" validate:"gt=0"`
	HeartbeatGrace time.Duration `yaml:"heartbeat_grace" envconfig:"HEARTBEAT_GRACE" validate:"gt=0"`
	EvictAfter     time.Duration `yaml:"evict_after" envconfig:"EVICT_AFTER" validate:"gt=0"`
	MaxJobDuration time.Duration `yaml:"max_job_duration" envconfig:"MAX_JOB_DURATION" validate:"gte=0"`

	SubmitRate  float64 `yaml:"submit_rate" envconfig:"SUBMIT_RATE" validate:"gte=0"`
	SubmitBurst int     `yaml:"submit_burst" envconfig:"SUBMIT_BURST" validate:"gte=0"`

	ResultBackend string `yaml:"result_backend" envconfig:"RESULT_BACKEND" validate:"oneof=bolt minio"`
	Minio         Minio  `yaml:"minio" envconfig:"MINIO"`

	Log Log `yaml:"log" envconfig:"LOG"`
}

// Worker is the configuration of `tusk worker`
type Worker struct {
	SchedulerAddr string `yaml:"scheduler_addr" envconfig:"SCHEDULER_ADDR" validate:"required"`
	Address       string `yaml:"address" envconfig:"ADDRESS"`
	Capacity      int    `yaml:"capacity" envconfig:"CAPACITY" validate:"gte=1,lte=1024"`

	Engine       string        `yaml:"engine" envconfig:"ENGINE" validate:"required"`
	EngineConfig engine.Config `yaml:"engine_config" envconfig:"ENGINE"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" validate:"gt=0"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff" envconfig:"RECONNECT_BACKOFF" validate:"gt=0"`

	// MetricsAddr serves /metrics and /live when set
	MetricsAddr string `yaml:"metrics_addr,omitempty" envconfig:"METRICS_ADDR" validate:"omitempty,hostname_port"`

	Log Log `yaml:"log" envconfig:"LOG"`
}

// DefaultScheduler returns the scheduler defaults
func DefaultScheduler() *Scheduler {
	return &Scheduler{
		DataDir:              "./tusk-data",
		APIAddr:              "127.0.0.1:7070",
		HealthAddr:           "127.0.0.1:9090",
		ScheduleInterval:     2 * time.Second,
		MetricsInterval:      15 * time.Second,
		MaxRetries:           3,
		RescheduleBackoff:    time.Second,
		RescheduleBackoffMax: time.Minute,
		HealthInterval:       5 * time.Second,
		HeartbeatGrace:       30 * time.Second,
		EvictAfter:           5 * time.Minute,
		ResultBackend:        "bolt",
		Minio:                Minio{Bucket: "tusk-results"},
		Log:                  Log{Level: "info"},
	}
}

// DefaultWorker returns the worker defaults
func DefaultWorker() *Worker {
	return &Worker{
		SchedulerAddr:     "127.0.0.1:7070",
		Capacity:          2,
		Engine:            engine.SQLiteName,
		EngineConfig:      engine.Config{BatchSize: engine.DefaultBatchSize},
		HeartbeatInterval: 5 * time.Second,
		ReconnectBackoff:  time.Second,
		Log:               Log{Level: "info"},
	}
}

// LoadScheduler layers defaults, the YAML file at path (if any), TUSK_* environment
// variables and the flags set explicitly on fs, then validates the result.
func LoadScheduler(path string, fs *pflag.FlagSet) (*Scheduler, error) {
	cfg := DefaultScheduler()
	if err := load(path, cfg, fs, schedulerFlags(cfg)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorker is LoadScheduler for worker configuration
func LoadWorker(path string, fs *pflag.FlagSet) (*Worker, error) {
	cfg := DefaultWorker()
	if err := load(path, cfg, fs, workerFlags(cfg)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, cfg any, fs *pflag.FlagSet, bindings []flagBinding) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	if fs != nil {
		if err := applyFlags(fs, bindings); err != nil {
			return err
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules tags cannot express
func (c *Scheduler) Validate() error {
	if err := check(c); err != nil {
		return err
	}
	if c.RescheduleBackoffMax > 0 && c.RescheduleBackoff > c.RescheduleBackoffMax {
		return fmt.Errorf("reschedule_backoff %s exceeds reschedule_backoff_max %s: %w",
			c.RescheduleBackoff, c.RescheduleBackoffMax, types.ErrValidation)
	}
	if c.ResultBackend == "minio" && c.Minio.Endpoint == "" {
		return fmt.Errorf("minio.endpoint is required for the minio result backend: %w", types.ErrValidation)
	}
	return nil
}

// Validate checks field constraints
func (c *Worker) Validate() error {
	return check(c)
}

func check(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %w: %w", errors.Join(msgs...), types.ErrValidation)
}
