package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lobbygraph/backend/pkg/graph"
	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/store"
)

// Reporter receives progress from a running Driver.
type Reporter interface {
	RecordDone(outcome Outcome, elapsed time.Duration)
	SourceDone(summary SourceSummary)
}

// Driver loads every record of a Source into a freshly purged store.
type Driver struct {
	store     store.GraphStore
	loader    *RecordLoader
	resolvers *graph.Resolvers
	reporter  Reporter
	runID     string
}

type DriverOption func(*Driver)

func WithReporter(r Reporter) DriverOption {
	return func(d *Driver) {
		d.reporter = r
	}
}

func WithRunID(id string) DriverOption {
	return func(d *Driver) {
		d.runID = id
	}
}

// WithResolvers attaches the resolvers used by the loader so their cache
// statistics end up in the run summary.
func WithResolvers(r *graph.Resolvers) DriverOption {
	return func(d *Driver) {
		d.resolvers = r
	}
}

func NewDriver(s store.GraphStore, loader *RecordLoader, opts ...DriverOption) *Driver {
	d := &Driver{store: s, loader: loader}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(d)
	}
	return d
}

// Run verifies and purges the store, then loads src record by record.
// Record failures are logged and counted. The run aborts when the source
// fails, the store is unreachable, or ctx ends; the partial summary is
// returned together with the error.
func (d *Driver) Run(ctx context.Context, src Source) (summary RunSummary, err error) {
	started := time.Now()
	summary = RunSummary{RunID: d.runID, StartedAt: started.UTC()}

	var current *SourceSummary
	var sourceStart time.Time
	closeSource := func() {
		if current == nil {
			return
		}
		current.Elapsed = time.Since(sourceStart)
		logger.Info("Finished source", "run", d.runID, "source", current.Source,
			"loaded", current.Loaded, "skipped", current.Skipped, "failed", current.Failed,
			"elapsed", current.Elapsed)
		if d.reporter != nil {
			d.reporter.SourceDone(*current)
		}
		summary.addSource(*current)
		current = nil
	}
	defer func() {
		closeSource()
		summary.Elapsed = time.Since(started)
		if d.resolvers != nil {
			summary.Caches = d.resolvers.Stats()
		}
		if err != nil {
			summary.Error = err.Error()
		}
	}()

	if err := d.store.Verify(ctx); err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return summary, err
	}
	if err := d.store.Purge(ctx); err != nil {
		return summary, fmt.Errorf("purge store: %w", err)
	}
	logger.Info("Purged graph store", "run", d.runID)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			return summary, fmt.Errorf("%w: %w", ErrSourceExhausted, err)
		}

		if current == nil || current.Source != rec.Source {
			closeSource()
			current = &SourceSummary{Source: rec.Source}
			sourceStart = time.Now()
			logger.Debug("Starting source", "run", d.runID, "source", rec.Source)
		}

		recordStart := time.Now()
		outcome, err := d.loader.Load(ctx, rec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			if isFatal(err) {
				logger.Error("Graph store unavailable, aborting run", "run", d.runID, "filing", rec.ID, "err", err)
				return summary, err
			}
			logger.Warn("Failed to load filing", "filing", rec.ID, "source", rec.Source, "err", err)
		}
		current.add(outcome)
		if d.reporter != nil {
			d.reporter.RecordDone(outcome, time.Since(recordStart))
		}
	}
}

func isFatal(err error) bool {
	if errors.Is(err, graph.ErrPersistence) || errors.Is(err, graph.ErrMalformedRecord) {
		return false
	}
	return errors.Is(err, store.ErrUnavailable)
}
