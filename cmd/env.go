package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/db"
	"github.com/sells-group/fsds-cli/internal/extract"
	"github.com/sells-group/fsds-cli/internal/fetcher"
	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/notify"
	"github.com/sells-group/fsds-cli/internal/objstore"
	"github.com/sells-group/fsds-cli/internal/pipeline"
	"github.com/sells-group/fsds-cli/internal/runlog"
	"github.com/sells-group/fsds-cli/internal/warehouse"
)

// pipelineEnv holds the clients and the orchestrator used by the run command.
type pipelineEnv struct {
	Pool         *pgxpool.Pool
	Store        *objstore.S3Store
	Orchestrator *pipeline.Orchestrator
	closers      []func()
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		pe.closers[i]()
	}
}

// initPipeline connects to object storage and the warehouse and builds the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, opts pipeline.Options) (*pipelineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}
	env := &pipelineEnv{}

	store, err := objstore.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	env.Store = store

	pool, err := warehousePool(ctx)
	if err != nil {
		return nil, err
	}
	env.Pool = pool
	env.closers = append(env.closers, pool.Close)

	var recorder pipeline.Recorder
	if cfg.Pipeline.RecordRuns {
		if err := runlog.Migrate(ctx, pool); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate run log")
		}
		recorder = runlog.NewRecorder(pool)
	}

	trigger, closeTrigger, err := notify.New(cfg.Trigger)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeTrigger != nil {
		env.closers = append(env.closers, closeTrigger)
	}

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     cfg.Fetch.Timeout,
		MaxRetries:  cfg.Fetch.MaxRetries,
		MinInterval: cfg.Fetch.MinInterval,
	})
	loader := warehouse.NewLoader(pool, store, cfg.Warehouse)

	env.Orchestrator = pipeline.New(pipeline.Deps{
		Fetcher:   fetcher.NewArchiveFetcher(httpFetcher, cfg.Fetch.BaseURL),
		Extractor: pipeline.ExtractorFunc(extract.Extract),
		Publisher: objstore.NewPublisher(store, objstore.PublisherOptions{
			Prefix:      cfg.Storage.Prefix,
			MaxAttempts: cfg.Storage.MaxAttempts,
			ChunkRows:   cfg.Pipeline.TranscodeChunkRows,
		}),
		Loader:      loader,
		ObjectStore: store,
		Warehouse:   loader,
		Trigger:     trigger,
		Recorder:    recorder,
	}, opts)

	zap.L().Info("pipeline ready",
		zap.String("bucket", store.Bucket()),
		zap.String("schema", cfg.Warehouse.Schema),
		zap.String("trigger", trigger.Kind()),
		zap.Bool("record_runs", recorder != nil),
	)
	return env, nil
}

// warehousePool opens the warehouse pool. An unreachable warehouse is
// reported as a connectivity error.
func warehousePool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Warehouse.DatabaseURL == "" {
		return nil, eris.New("warehouse: no database_url configured (set warehouse.database_url or FSDS_WAREHOUSE_DATABASE_URL)")
	}
	pool, err := db.Connect(ctx, cfg.Warehouse.DatabaseURL, cfg.Warehouse.MaxConns)
	if err != nil {
		return nil, &fsds.ConnectivityError{Target: fsds.TargetWarehouse, Err: err}
	}
	return pool, nil
}
