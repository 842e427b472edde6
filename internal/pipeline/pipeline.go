// Package pipeline wires configuration, store, archive source, metrics and
// summary publication into one loader run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lobbygraph/backend/internal/config"
	"github.com/lobbygraph/backend/internal/metrics"
	"github.com/lobbygraph/backend/internal/storage"
	"github.com/lobbygraph/backend/internal/util"
	"github.com/lobbygraph/backend/pkg/entitycache"
	"github.com/lobbygraph/backend/pkg/graph"
	"github.com/lobbygraph/backend/pkg/ingest"
	"github.com/lobbygraph/backend/pkg/leaselock"
	"github.com/lobbygraph/backend/pkg/loader"
	ioloader "github.com/lobbygraph/backend/pkg/loader/io"
	s3loader "github.com/lobbygraph/backend/pkg/loader/s3"
	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/source"
	"github.com/lobbygraph/backend/pkg/store"
	"github.com/lobbygraph/backend/pkg/store/memory"
	neo4jstore "github.com/lobbygraph/backend/pkg/store/neo4j"
	pgxstore "github.com/lobbygraph/backend/pkg/store/pgx"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Runner executes loader runs against one store. Runs on the same Runner
// must not overlap.
type Runner struct {
	cfg     config.Config
	store   store.GraphStore
	lease   *leaselock.Client
	metrics *metrics.Metrics
	objects storage.ObjectAPI
}

type RunnerOption func(*Runner)

func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithObjectStore sets the S3 client used for archives and summary uploads.
func WithObjectStore(api storage.ObjectAPI) RunnerOption {
	return func(r *Runner) {
		r.objects = api
	}
}

// WithLease makes every run hold the store lease.
func WithLease(c *leaselock.Client) RunnerOption {
	return func(r *Runner) {
		r.lease = c
	}
}

func NewRunner(cfg config.Config, s store.GraphStore, opts ...RunnerOption) *Runner {
	r := &Runner{cfg: cfg, store: s}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Open builds a Runner from cfg: the configured store backend, its lease
// when the backend supports one, and an S3 client when archives or
// summaries live in object storage.
func Open(ctx context.Context, cfg config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s, lease, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []RunnerOption{WithLease(lease)}
	if cfg.ArchiveStore == config.ArchivesS3 || cfg.SummaryPrefix != "" {
		client, err := storage.NewS3Client(ctx, storage.S3Params{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		opts = append(opts, WithObjectStore(client))
	}
	return NewRunner(cfg, s, opts...), nil
}

// OpenStore creates the configured graph store. The lease client is nil for
// backends without a load_leases table.
func OpenStore(ctx context.Context, cfg config.Config) (store.GraphStore, *leaselock.Client, error) {
	switch cfg.Backend {
	case config.BackendNeo4j:
		s, err := neo4jstore.New(neo4jstore.Params{
			URI:        cfg.Neo4j.URI,
			Username:   cfg.Neo4j.Username,
			Password:   cfg.Neo4j.Password,
			Database:   cfg.Neo4j.Database,
			Indexes:    graph.Indexes(),
			PurgeBatch: cfg.Neo4j.PurgeBatch,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.BackendPostgres:
		var opts []pgxstore.GraphDBStorageOption
		if cfg.Postgres.RunMigrations {
			opts = append(opts, pgxstore.WithMigrations(cfg.Postgres.DatabaseURL))
		}
		s, err := pgxstore.NewGraphDBStorage(ctx, cfg.Postgres.DatabaseURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, leaselock.New(s.Pool()), nil
	case config.BackendMemory:
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// OpenSource lists the archives at path, a local file or directory or an
// S3 key prefix depending on the archive store.
func (r *Runner) OpenSource(ctx context.Context, path string) (ingest.Source, error) {
	if path == "" {
		path = r.cfg.ArchivePath
	}
	if path == "" {
		return nil, errors.New("no archive path given")
	}

	var (
		files []loader.ArchiveFile
		err   error
	)
	switch r.cfg.ArchiveStore {
	case config.ArchivesS3:
		if r.objects == nil {
			return nil, errors.New("s3 archive store requires an object store client")
		}
		files, err = s3loader.NewS3ArchiveLoaderWithClient(r.cfg.S3.Bucket, r.objects).ListArchives(ctx, path)
	default:
		files, err = ioloader.NewIOArchiveLoader().ListArchives(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list archives: %w", ingest.ErrSourceExhausted, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no archives at %s", ingest.ErrSourceExhausted, path)
	}
	logger.Info("Found filing archives", "count", len(files), "path", path)
	return source.NewArchiveSource(files), nil
}

// RunArchives loads every archive at path. An empty runID gets a generated
// one.
func (r *Runner) RunArchives(ctx context.Context, runID, path string) (ingest.RunSummary, error) {
	src, err := r.OpenSource(ctx, path)
	if err != nil {
		return ingest.RunSummary{RunID: runID, Error: err.Error()}, err
	}
	defer src.Close()
	return r.Run(ctx, runID, src)
}

// Run purges the store and loads src into it under the store lease, then
// reports the summary through metrics, the log and the summary bucket.
func (r *Runner) Run(ctx context.Context, runID string, src ingest.Source) (summary ingest.RunSummary, err error) {
	if runID == "" {
		if runID, err = gonanoid.New(); err != nil {
			return summary, err
		}
	}

	resolvers, err := graph.NewResolvers(r.cfg.CacheSizes, entitycache.WithObserver(r.metrics.ObserveCache))
	if err != nil {
		return summary, err
	}
	recordLoader := ingest.NewRecordLoader(r.store, resolvers,
		ingest.WithAmountPolicy(r.cfg.MissingAmountPolicy),
		ingest.WithRecordTimeout(r.cfg.RecordTimeout),
		ingest.WithRetry(r.cfg.MaxTries, r.cfg.Backoff()),
	)
	driver := ingest.NewDriver(r.store, recordLoader,
		ingest.WithRunID(runID),
		ingest.WithReporter(r.metrics),
		ingest.WithResolvers(resolvers),
	)

	run := func(ctx context.Context) error {
		summary, err = driver.Run(ctx, src)
		return err
	}
	logger.Info("Starting load run", "run", runID, "backend", r.cfg.Backend)
	if r.lease != nil {
		// The lease table is created by the store migrations.
		if err = r.store.Verify(ctx); err != nil {
			summary = ingest.RunSummary{RunID: runID, Error: err.Error()}
			r.report(context.WithoutCancel(ctx), summary)
			return summary, err
		}
		err = r.lease.WithLease(ctx, leaselock.StoreKey(r.cfg.Backend), leaselock.Options{
			TTL:         r.cfg.LeaseTTL,
			TokenPrefix: runID + "-",
		}, run)
		if summary.RunID == "" {
			summary.RunID = runID
		}
		if err != nil && summary.Error == "" {
			summary.Error = err.Error()
		}
	} else {
		err = run(ctx)
	}

	r.report(context.WithoutCancel(ctx), summary)
	return summary, err
}

func (r *Runner) report(ctx context.Context, summary ingest.RunSummary) {
	if summary.Error != "" {
		logger.Error("Load run aborted", "run", summary.RunID, "err", summary.Error)
	}
	logger.Info("Load run summary\n" + summary.String())

	r.metrics.RunDone(summary)
	if r.cfg.PushgatewayURL != "" {
		if err := r.metrics.Push(ctx, r.cfg.PushgatewayURL, "lobbygraph_loader", summary.RunID); err != nil {
			logger.Warn("Failed to push metrics", "run", summary.RunID, "err", err)
		}
	}
	if r.cfg.SummaryPrefix != "" && r.objects != nil {
		if err := r.uploadSummary(ctx, summary); err != nil {
			logger.Warn("Failed to upload run summary", "run", summary.RunID, "err", err)
		}
	}
}

const summaryUploadTries = 3

// SummaryKey is the object key of a run summary under prefix.
func SummaryKey(prefix, runID string) string {
	return fmt.Sprintf("%s/%s.json", strings.TrimSuffix(prefix, "/"), runID)
}

func (r *Runner) uploadSummary(ctx context.Context, summary ingest.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	key := SummaryKey(r.cfg.SummaryPrefix, summary.RunID)
	err = util.RetryErrWithContext(ctx, summaryUploadTries, r.cfg.Backoff(), nil, func(ctx context.Context) error {
		return storage.PutFile(ctx, r.objects, r.cfg.S3.Bucket, key, "application/json", body)
	})
	if err != nil {
		return err
	}
	logger.Info("Uploaded run summary", "bucket", r.cfg.S3.Bucket, "key", key)
	return nil
}

func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

func (r *Runner) Close(ctx context.Context) error {
	return r.store.Close(ctx)
}
