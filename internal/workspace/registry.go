// Package workspace provisions and caches the storage of each workspace.
//
// A Registry maps workspace identifiers to open handles: one relational
// store and one vector index per resolved path. The first Acquire for a path
// creates the data directory, opens the store, applies pending migrations and
// opens the vector index; later calls return the cached Workspace without
// locking. Provisioning for one path runs at most once at a time and never
// blocks other paths.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/telemetry"
	"github.com/ashita-ai/novaport/migrations"
)

// StoreOpener opens a relational store. storage.Open satisfies it.
type StoreOpener func(ctx context.Context, opts storage.Options, logger *slog.Logger) (*storage.DB, error)

// Config controls where and how workspaces are provisioned.
type Config struct {
	// DataDirName is the directory created inside each workspace.
	DataDirName string

	Dialect      storage.Dialect
	PostgresDSN  string
	MaxOpenConns int

	// ProvisionTimeout bounds one provisioning run. Zero means no bound.
	ProvisionTimeout time.Duration

	// Release controls how vector indexes are closed on cleanup.
	Release search.ReleaseOptions

	// Migrations returns the migration steps for a dialect.
	// Defaults to the embedded migrations.
	Migrations func(storage.Dialect) (fs.FS, error)

	// OpenStore defaults to storage.Open.
	OpenStore StoreOpener

	// OpenIndex opens the vector index at a workspace's vector directory.
	// Defaults to a local index with EmbeddingDims dimensions.
	OpenIndex     search.Opener
	EmbeddingDims int
}

func embeddedMigrations(d storage.Dialect) (fs.FS, error) {
	return migrations.For(string(d))
}

// Registry owns every open workspace in the process.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	indexes *search.Cache

	// locksMu guards only the creation of per-path locks.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	workspaces sync.Map // resolved path -> *Workspace
	group      singleflight.Group

	tracer  trace.Tracer
	metrics registryMetrics
}

type registryMetrics struct {
	provisions metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
	open       metric.Int64UpDownCounter
}

// New creates an empty registry. Nothing is opened until Acquire.
func New(cfg Config, logger *slog.Logger) *Registry {
	if cfg.DataDirName == "" {
		cfg.DataDirName = DefaultDataDirName
	}
	if cfg.Dialect == "" {
		cfg.Dialect = storage.DialectSQLite
	}
	if cfg.Release.Attempts <= 0 {
		cfg.Release = search.DefaultReleaseOptions()
	}
	if cfg.Migrations == nil {
		cfg.Migrations = embeddedMigrations
	}
	if cfg.OpenStore == nil {
		cfg.OpenStore = storage.Open
	}
	if cfg.OpenIndex == nil {
		cfg.OpenIndex = search.LocalOpener(search.DefaultCollection, cfg.EmbeddingDims, logger)
	}

	meter := telemetry.Meter("novaport/workspace")
	provisions, _ := meter.Int64Counter("novaport.workspace.provisions",
		metric.WithDescription("Workspaces provisioned"),
	)
	failures, _ := meter.Int64Counter("novaport.workspace.provision_failures",
		metric.WithDescription("Failed provisioning runs"),
	)
	duration, _ := meter.Float64Histogram("novaport.workspace.provision_duration_ms",
		metric.WithDescription("Time to provision a workspace (ms)"),
		metric.WithUnit("ms"),
	)
	open, _ := meter.Int64UpDownCounter("novaport.workspace.open",
		metric.WithDescription("Workspaces with open handles"),
	)

	return &Registry{
		cfg:     cfg,
		logger:  logger,
		indexes: search.NewCache(cfg.OpenIndex, logger),
		locks:   make(map[string]*sync.Mutex),
		tracer:  telemetry.Tracer("novaport/workspace"),
		metrics: registryMetrics{
			provisions: provisions,
			failures:   failures,
			duration:   duration,
			open:       open,
		},
	}
}

// lockFor returns the provisioning lock of path, creating it on first use.
// Locks are never removed.
func (r *Registry) lockFor(path string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[path] = mu
	}
	return mu
}

func (r *Registry) cached(path string) (*Workspace, bool) {
	v, ok := r.workspaces.Load(path)
	if !ok {
		return nil, false
	}
	return v.(*Workspace), true
}

// Acquire returns the workspace for id, provisioning it on first use.
//
// Concurrent callers for the same path share one provisioning run and all
// see its result or its error. Provisioning runs detached from ctx: a caller
// that gives up gets ctx.Err() while the run completes or rolls back for
// everyone else. Failures leave nothing cached, so the next call starts over.
func (r *Registry) Acquire(ctx context.Context, id string) (*Workspace, error) {
	path, err := Resolve(id)
	if err != nil {
		return nil, &ProvisioningError{Path: id, Op: "resolve", Err: err}
	}
	if ws, ok := r.cached(path); ok {
		return ws, nil
	}

	ch := r.group.DoChan(path, func() (any, error) {
		pctx := context.WithoutCancel(ctx)
		if r.cfg.ProvisionTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(pctx, r.cfg.ProvisionTimeout)
			defer cancel()
		}
		return r.provision(pctx, path)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Workspace), nil
	}
}

// Lookup returns the cached workspace for id without provisioning.
func (r *Registry) Lookup(id string) (*Workspace, bool) {
	path, err := Resolve(id)
	if err != nil {
		return nil, false
	}
	return r.cached(path)
}

func (r *Registry) provision(ctx context.Context, path string) (*Workspace, error) {
	mu := r.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	if ws, ok := r.cached(path); ok {
		return ws, nil
	}

	ctx, span := r.tracer.Start(ctx, "workspace.provision",
		trace.WithAttributes(
			attribute.String("novaport.workspace", path),
			attribute.String("novaport.dialect", string(r.cfg.Dialect)),
		),
	)
	defer span.End()

	start := time.Now()
	ws, indexOK, err := r.build(ctx, path)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provisioning failed")
		r.metrics.failures.Add(ctx, 1)
		r.logger.Error("workspace: provisioning failed", "path", path, "error", err)
		return nil, err
	}

	r.workspaces.Store(path, ws)
	r.metrics.provisions.Add(ctx, 1)
	r.metrics.duration.Record(ctx, elapsed)
	r.metrics.open.Add(ctx, 1)
	span.SetAttributes(attribute.Int("novaport.schema_version", ws.db.SchemaVersion()))
	r.logger.Info("workspace: provisioned",
		"path", path,
		"schema_version", ws.db.SchemaVersion(),
		"vector_index", indexOK,
		"duration_ms", elapsed,
	)
	return ws, nil
}

// build opens every handle of path. On failure it closes whatever it opened.
// indexOK reports whether the vector index opened.
func (r *Registry) build(ctx context.Context, path string) (ws *Workspace, indexOK bool, err error) {
	paths := Layout(path, r.cfg.DataDirName)
	if err := ensureDir(paths.DataDir); err != nil {
		return nil, false, &ProvisioningError{Path: path, Op: "mkdir", Err: err}
	}

	opts := storage.Options{
		Dialect:      r.cfg.Dialect,
		Path:         paths.DBPath,
		MaxOpenConns: r.cfg.MaxOpenConns,
	}
	if r.cfg.Dialect == storage.DialectPostgres {
		opts.DSN = r.cfg.PostgresDSN
		opts.Schema = storage.SchemaName(path)
	}
	db, err := r.cfg.OpenStore(ctx, opts, r.logger)
	if err != nil {
		return nil, false, &ProvisioningError{Path: path, Op: "open_store", Err: err}
	}

	steps, err := r.cfg.Migrations(r.cfg.Dialect)
	if err != nil {
		_ = db.Close()
		return nil, false, &ProvisioningError{Path: path, Op: "migrations", Err: err}
	}
	if _, err := db.RunMigrations(ctx, steps); err != nil {
		_ = db.Close()
		return nil, false, fmt.Errorf("workspace: migrate %s: %w", path, err)
	}

	ws = &Workspace{paths: paths, db: db, reg: r}

	// The vector index is independent of the store: a failure here is logged
	// and retried on the next Index call.
	if _, err := r.indexes.GetOrCreate(ctx, paths.VectorDir); err != nil {
		r.logger.Warn("workspace: vector index unavailable", "path", path, "error", err)
		return ws, false, nil
	}
	return ws, true, nil
}

// Cleanup closes and forgets the workspace for id. Unknown workspaces are a
// no-op. Handles already returned by Acquire fail after Cleanup.
func (r *Registry) Cleanup(ctx context.Context, id string) error {
	path, err := Resolve(id)
	if err != nil {
		return &ProvisioningError{Path: id, Op: "resolve", Err: err}
	}

	mu := r.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	v, ok := r.workspaces.LoadAndDelete(path)
	if !ok {
		return nil
	}
	ws := v.(*Workspace)
	ws.closed.Store(true)
	r.metrics.open.Add(ctx, -1)

	var errs []error
	if err := ws.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.indexes.Release(ctx, ws.paths.VectorDir, r.cfg.Release); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("workspace: cleanup %s: %w", path, errors.Join(errs...))
	}
	r.logger.Info("workspace: released", "path", path)
	return nil
}

// dropStaleIndex releases the index a cleaned-up workspace reopened, unless
// its path has been provisioned again and now owns the index.
func (r *Registry) dropStaleIndex(ctx context.Context, ws *Workspace) {
	mu := r.lockFor(ws.paths.Root)
	mu.Lock()
	defer mu.Unlock()

	if _, ok := r.cached(ws.paths.Root); ok {
		return
	}
	if err := r.indexes.Release(context.WithoutCancel(ctx), ws.paths.VectorDir, r.cfg.Release); err != nil {
		r.logger.Warn("workspace: stale index release failed", "path", ws.paths.Root, "error", err)
	}
}

// Close releases every workspace. The registry stays usable; a later Acquire
// provisions again.
func (r *Registry) Close(ctx context.Context) error {
	var paths []string
	r.workspaces.Range(func(k, _ any) bool {
		paths = append(paths, k.(string))
		return true
	})

	var errs []error
	for _, p := range paths {
		if err := r.Cleanup(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	// Indexes opened lazily for workspaces that were already cleaned up.
	if err := r.indexes.CloseAll(ctx, r.cfg.Release); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Len returns the number of provisioned workspaces.
func (r *Registry) Len() int {
	n := 0
	r.workspaces.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
