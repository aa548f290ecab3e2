package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/while-basic/celaya-parachain-sub004/internal/config"
	"github.com/while-basic/celaya-parachain-sub004/internal/journal"
	"github.com/while-basic/celaya-parachain-sub004/internal/metrics"
	"github.com/while-basic/celaya-parachain-sub004/internal/mq"
	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
	"github.com/while-basic/celaya-parachain-sub004/pkg/log"
	"github.com/while-basic/celaya-parachain-sub004/pkg/weight"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	// FsyncInterval sets the group-commit window when Fsync is
	// FsyncModeInterval. Zero keeps the store's default.
	FsyncInterval time.Duration
	Config        cfgpkg.Config

	// Handler processes dequeued messages. DefaultHandler when nil.
	Handler mq.Handler
	Logger  log.Logger
}

// FromConfig derives runtime Options from a loaded configuration.
func FromConfig(cfg cfgpkg.Config) Options {
	return Options{
		DataDir: cfg.DataDir,
		Fsync:   pebblestore.ParseFsyncMode(cfg.Fsync),
		Config:  cfg,
	}
}

// storeOptions maps runtime options onto the store's, keeping the
// fsync mode and interval together.
func storeOptions(opts Options, hook pebblestore.MetricsHook) pebblestore.Options {
	return pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       hook,
	}
}

// Runtime wires storage, the queue engine, and metrics for a
// single-node instance.
type Runtime struct {
	db        *pebblestore.DB
	engine    *mq.Engine
	journal   *journal.Journal
	collector *metrics.Collector
	logger    log.Logger
	config    cfgpkg.Config
}

// Open initializes storage and the engine and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	collector := metrics.New()
	db, err := pebblestore.Open(storeOptions(opts, collector))
	if err != nil {
		return nil, err
	}
	handler := opts.Handler
	if handler == nil {
		handler = DefaultHandler()
	}
	jr, err := journal.Open(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	engine, err := mq.Open(db, mq.Options{
		PageCapacity:        opts.Config.Queue.PageCapacity,
		MaxTemporaryRetries: opts.Config.Queue.MaxTemporaryRetries,
		TurnMessageCap:      opts.Config.Queue.TurnMessageCap,
		Handler:             handler,
		Events:              mq.Sinks(collector, journal.NewSink(jr, logger)),
		Logger:              logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Runtime{
		db:        db,
		engine:    engine,
		journal:   jr,
		collector: collector,
		logger:    logger,
		config:    opts.Config,
	}, nil
}

// DefaultHandler charges one weight unit per payload byte plus a fixed
// dispatch cost and accepts everything the ceiling covers.
func DefaultHandler() mq.Handler {
	return mq.HandlerFunc(func(origin string, payload []byte, ceiling weight.Weight) mq.Outcome {
		cost := weight.Weight(len(payload)) + 1
		if ceiling < cost {
			return mq.Outcome{Kind: mq.InsufficientWeight, Weight: cost}
		}
		return mq.Outcome{Kind: mq.Success, Weight: cost}
	})
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Engine returns the queue engine.
func (r *Runtime) Engine() *mq.Engine { return r.engine }

// Journal returns the persisted event history.
func (r *Runtime) Journal() *journal.Journal { return r.journal }

// Collector returns the metrics collector backing /metrics.
func (r *Runtime) Collector() *metrics.Collector { return r.collector }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
