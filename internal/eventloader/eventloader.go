package eventloader

import (
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	"github.com/armadaproject/eventloader/internal/common/database"
	"github.com/armadaproject/eventloader/internal/common/health"
	ingestmetrics "github.com/armadaproject/eventloader/internal/common/ingest/metrics"
	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/common/serve"
	"github.com/armadaproject/eventloader/internal/eventloader/checkpoint"
	"github.com/armadaproject/eventloader/internal/eventloader/configuration"
	"github.com/armadaproject/eventloader/internal/eventloader/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/pipeline"
	"github.com/armadaproject/eventloader/internal/eventloader/sink"
	"github.com/armadaproject/eventloader/internal/eventloader/validation"
	"github.com/armadaproject/eventloader/internal/eventloader/watcher"
)

// Run connects to postgres, brings the schema up to date and runs the ingestion driver together with the
// metrics/health server until ctx is cancelled or progress can no longer be recorded.
func Run(ctx *logctx.Context, config *configuration.EventLoaderConfiguration) (err error) {
	m := metrics.Get()

	ctx.Log.Info("Opening connection pool to postgres")
	db, err := database.OpenPgxPool(ctx, config.Postgres.PostgresConfig)
	if err != nil {
		return errors.WithMessage(err, "error opening connection to postgres")
	}
	defer db.Close()

	if err := sink.WaitForDb(ctx, db, config.StartupWait.Attempts, config.StartupWait.Delay); err != nil {
		return errors.WithMessage(err, "postgres did not become ready")
	}
	if err := sink.Migrate(ctx, db); err != nil {
		m.RecordDBError(ingestmetrics.DBOperationMigrate)
		return errors.WithMessage(err, "error migrating database")
	}

	store, err := openCheckpointStore(ctx, config, db)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			err = multierror.Append(err, errors.WithMessage(closeErr, "error closing checkpoint store")).ErrorOrNil()
		}
	}()

	writer, err := sink.NewWriter(db, config.Postgres, config.Retry)
	if err != nil {
		return err
	}
	if count, err := writer.Count(ctx); err == nil {
		ctx.Log.Infof("%s holds %d events", config.Postgres.TableName, count)
	}

	if err := os.MkdirAll(config.InputPath, 0o755); err != nil {
		return errors.Wrapf(err, "creating input directory %s", config.InputPath)
	}
	driver, source, err := newDriver(ctx, config, store, writer, clock.RealClock{})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.SetupHttpMux(mux, health.NewMultiChecker(writer, store, source))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Metrics.Port),
		Handler: mux,
	}

	g, gctx := logctx.ErrGroup(ctx)
	g.Go(func() error {
		return serve.ListenAndServe(gctx, server)
	})
	g.Go(func() error {
		if err := driver.Run(gctx); err != nil {
			return err
		}
		return gctx.Err()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	return nil
}

func openCheckpointStore(ctx *logctx.Context, config *configuration.EventLoaderConfiguration, db database.Pool) (*checkpoint.Store, error) {
	var store *checkpoint.Store
	var err error
	switch config.Checkpoint.Type {
	case configuration.CheckpointTypePostgres:
		store, err = checkpoint.NewPostgresStore(ctx, db, config.Checkpoint.CacheSize)
	default:
		store, err = checkpoint.NewSqliteStore(ctx, config.Checkpoint.SqlitePath, config.Checkpoint.CacheSize)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "error opening checkpoint store")
	}

	cp, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, errors.WithMessage(err, "error reading checkpoint")
	}
	if cp.BatchId == 0 {
		ctx.Log.Info("No checkpoint found, starting from scratch")
	} else {
		ctx.Log.Infof("Resuming after batch %d committed at %s", cp.BatchId, cp.UpdatedAt)
	}
	return store, nil
}

// newDriver wires the watcher and validator around store and sink.
func newDriver(
	ctx *logctx.Context,
	config *configuration.EventLoaderConfiguration,
	store *checkpoint.Store,
	sink pipeline.Sink,
	clk clock.Clock,
) (*pipeline.Driver, *watcher.Watcher, error) {
	source, err := watcher.New(config.InputPath, config.FilePattern, store)
	if err != nil {
		return nil, nil, err
	}
	validator := validation.New(config.Validation, clk)
	ctx.Log.Infof("Watching %s for %s", config.InputPath, config.FilePattern)
	return pipeline.NewDriver(config, source, validator, sink, store, clk), source, nil
}
