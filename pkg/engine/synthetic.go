package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tuskdata/tusk/pkg/types"
)

// SyntheticName is the registered name of the synthetic engine
const SyntheticName = "synthetic"

func init() {
	Register(SyntheticName, func(cfg Config) (Engine, error) {
		return &Synthetic{batchSize: cfg.BatchSize}, nil
	})
}

// Synthetic generates deterministic rows from a key=value query, for development clusters
// and tests. Recognised keys:
//
//	rows=N       number of rows (default 10)
//	batch=N      rows per batch (default: engine batch size)
//	delay=D      sleep before each batch (time.ParseDuration syntax)
//	fail=MSG     fail after the first batch with MSG (underscores become spaces)
//
// Rows have two columns: n (0..N-1) and label ("row-n").
type Synthetic struct {
	batchSize int
}

type syntheticPlan struct {
	rows  int
	batch int
	delay time.Duration
	fail  string
}

func parseSynthetic(text string, defaultBatch int) (syntheticPlan, error) {
	plan := syntheticPlan{rows: 10, batch: defaultBatch}
	for _, field := range strings.Fields(text) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return plan, fmt.Errorf("synthetic: expected key=value, got %q", field)
		}
		var err error
		switch key {
		case "rows":
			plan.rows, err = strconv.Atoi(value)
			if err == nil && plan.rows < 0 {
				err = errors.New("must not be negative")
			}
		case "batch":
			plan.batch, err = strconv.Atoi(value)
			if err == nil && plan.batch <= 0 {
				err = errors.New("must be positive")
			}
		case "delay":
			plan.delay, err = time.ParseDuration(value)
		case "fail":
			plan.fail = strings.ReplaceAll(value, "_", " ")
		default:
			err = errors.New("unknown key")
		}
		if err != nil {
			return plan, fmt.Errorf("synthetic: %s: %w", key, err)
		}
	}
	if plan.batch <= 0 {
		plan.batch = DefaultBatchSize
	}
	return plan, nil
}

// Name returns the engine name
func (e *Synthetic) Name() string {
	return SyntheticName
}

// Execute generates the rows described by query.Text
func (e *Synthetic) Execute(ctx context.Context, query types.QuerySpec, emit EmitFunc, progress ProgressFunc) error {
	plan, err := parseSynthetic(query.Text, e.batchSize)
	if err != nil {
		return err
	}

	b := newBatcher([]string{"n", "label"}, []string{"INTEGER", "TEXT"}, plan.batch, emit)
	for start := 0; ; start += plan.batch {
		if plan.delay > 0 {
			select {
			case <-time.After(plan.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+plan.batch, plan.rows)
		for n := start; n < end; n++ {
			if err := b.add([]any{int64(n), "row-" + strconv.Itoa(n)}); err != nil {
				return err
			}
		}
		if err := b.flush(); err != nil {
			return err
		}
		if plan.fail != "" {
			return errors.New(plan.fail)
		}
		if end >= plan.rows {
			break
		}
		progress(float64(end) / float64(plan.rows))
	}
	progress(1)
	return nil
}

// Close is a no-op
func (e *Synthetic) Close() error {
	return nil
}
