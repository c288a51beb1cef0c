package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tuskdata/tusk/pkg/types"
)

// DefaultBatchSize is the number of rows per emitted batch
const DefaultBatchSize = 1000

// EmitFunc receives result batches in order. Returning an error stops execution.
type EmitFunc func(*types.Batch) error

// ProgressFunc receives the fraction of the execution completed so far
type ProgressFunc func(fraction float64)

// Engine executes a query descriptor and emits its result as columnar batches
type Engine interface {
	Name() string
	Execute(ctx context.Context, query types.QuerySpec, emit EmitFunc, progress ProgressFunc) error
	Close() error
}

// Config configures an engine instance
type Config struct {
	// DSN is the default data source
	DSN string `yaml:"dsn" envconfig:"DSN"`
	// Datasources maps QuerySpec.Datasource names to data sources
	Datasources map[string]string `yaml:"datasources,omitempty" envconfig:"DATASOURCES"`
	// BatchSize is the number of rows per batch
	BatchSize int `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gte=0"`
}

// Factory creates an engine from its configuration
type Factory func(cfg Config) (Engine, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes an engine available by name
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("engine: Register called twice for " + name)
	}
	factories[name] = f
}

// New creates the named engine
func New(name string, cfg Config) (Engine, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %v)", name, Names())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return f(cfg)
}

// Names lists the registered engines
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// batcher accumulates rows column-wise and flushes full batches to emit
type batcher struct {
	names []string
	kinds []string
	size  int
	emit  EmitFunc
	batch *types.Batch
	rows  int
}

func newBatcher(names, kinds []string, size int, emit EmitFunc) *batcher {
	b := &batcher{names: names, kinds: kinds, size: size, emit: emit}
	b.reset()
	return b
}

func (b *batcher) reset() {
	cols := make([]types.Column, len(b.names))
	for i, name := range b.names {
		cols[i] = types.Column{Name: name, Type: b.kinds[i], Values: make([]any, 0, b.size)}
	}
	b.batch = &types.Batch{Columns: cols}
}

func (b *batcher) add(row []any) error {
	for i, v := range row {
		b.batch.Columns[i].Values = append(b.batch.Columns[i].Values, v)
	}
	b.rows++
	if b.batch.NumRows() >= b.size {
		return b.flush()
	}
	return nil
}

func (b *batcher) flush() error {
	if b.batch.NumRows() == 0 {
		return nil
	}
	full := b.batch
	b.reset()
	return b.emit(full)
}
