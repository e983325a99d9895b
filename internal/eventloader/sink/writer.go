package sink

import (
	"math"
	"time"

	"github.com/avast/retry-go"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"github.com/armadaproject/eventloader/internal/common/database"
	ingestmetrics "github.com/armadaproject/eventloader/internal/common/ingest/metrics"
	"github.com/armadaproject/eventloader/internal/common/loadererrors"
	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/eventloader/configuration"
	"github.com/armadaproject/eventloader/internal/eventloader/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

var insertColumns = []interface{}{
	model.ColumnEventId,
	model.ColumnUserId,
	model.ColumnProductId,
	model.ColumnProductName,
	model.ColumnProductCategory,
	model.ColumnEventType,
	model.ColumnPrice,
	model.ColumnEventTimestamp,
}

type statement struct {
	sql  string
	args []interface{}
}

// Writer commits validated events to postgres. Each commit is a single transaction in which rows whose event_id
// already exists are skipped, so committing the same events again is harmless.
type Writer struct {
	db            database.Pool
	tableName     string
	chunkSize     int
	commitTimeout time.Duration
	retry         configuration.RetryConfig
	dialect       goqu.DialectWrapper
	metrics       *metrics.Metrics
}

func NewWriter(db database.Pool, config configuration.PostgresConfig, retryConfig configuration.RetryConfig) (*Writer, error) {
	if db == nil {
		return nil, errors.WithStack(&loadererrors.ErrInvalidArgument{
			Name:    "db",
			Value:   db,
			Message: "db must be non-nil",
		})
	}
	if config.TableName == "" {
		return nil, errors.WithStack(&loadererrors.ErrInvalidArgument{
			Name:    "TableName",
			Value:   config.TableName,
			Message: "TableName must be non-empty",
		})
	}
	if retryConfig.MaxAttempts == 0 {
		return nil, errors.WithStack(&loadererrors.ErrInvalidArgument{
			Name:    "MaxAttempts",
			Value:   retryConfig.MaxAttempts,
			Message: "at least one attempt is required",
		})
	}
	chunkSize := config.InsertChunkSize
	if chunkSize <= 0 {
		chunkSize = math.MaxInt32
	}
	return &Writer{
		db:            db,
		tableName:     config.TableName,
		chunkSize:     chunkSize,
		commitTimeout: config.CommitTimeout,
		retry:         retryConfig,
		dialect:       goqu.Dialect("postgres"),
		metrics:       metrics.Get(),
	}, nil
}

// Commit writes events in one transaction and returns the number of rows actually inserted, which is lower than
// len(events) when some events were already present.
//
// Transient failures are retried with exponential backoff. If every attempt fails, or a failure is not transient,
// a *FatalStoreError is returned and nothing from this call is visible in the table. Each attempt runs to
// completion even if ctx is cancelled; only the waits between attempts are interrupted.
func (w *Writer) Commit(ctx *logctx.Context, events []model.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	statements, err := w.insertStatements(events)
	if err != nil {
		return 0, &FatalStoreError{Attempts: 0, Err: err}
	}

	var inserted int64
	var attempts uint
	err = retry.Do(
		func() error {
			attempts++
			n, err := w.commitOnce(ctx, statements)
			if err != nil {
				err = classify(err)
				if IsTransient(err) {
					w.metrics.RecordCommitAttempt(metrics.ResultTransient)
				} else {
					w.metrics.RecordCommitAttempt(metrics.ResultFatal)
				}
				w.metrics.RecordDBError(ingestmetrics.DBOperationInsert)
				return err
			}
			w.metrics.RecordCommitAttempt(metrics.ResultSuccess)
			inserted = n
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(w.retry.MaxAttempts),
		retry.Delay(w.retry.InitialDelay),
		retry.MaxDelay(w.retry.MaxDelay),
		retry.DelayType(w.backoff),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Warnf("Commit attempt %d of %d failed", n+1, w.retry.MaxAttempts)
		}),
	)
	if err == nil {
		return inserted, nil
	}
	if IsTransient(err) {
		return 0, &FatalStoreError{Attempts: attempts, Err: err}
	}
	var fatal *FatalStoreError
	if errors.As(err, &fatal) {
		fatal.Attempts = attempts
		return 0, fatal
	}
	// Interrupted while waiting to retry.
	return 0, errors.WithStack(err)
}

// backoff returns the wait before retry n (0 based): InitialDelay * Multiplier^n, capped at MaxDelay.
func (w *Writer) backoff(n uint, _ error, _ *retry.Config) time.Duration {
	delay := float64(w.retry.InitialDelay) * math.Pow(w.retry.Multiplier, float64(n))
	if w.retry.MaxDelay > 0 && delay > float64(w.retry.MaxDelay) {
		return w.retry.MaxDelay
	}
	return time.Duration(delay)
}

func (w *Writer) commitOnce(ctx *logctx.Context, statements []statement) (int64, error) {
	attemptCtx, cancel := logctx.WithTimeout(logctx.Detach(ctx), w.commitTimeout)
	defer cancel()

	var inserted int64
	err := pgx.BeginTxFunc(attemptCtx, w.db, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}, func(tx pgx.Tx) error {
		inserted = 0
		for _, stmt := range statements {
			tag, err := tx.Exec(attemptCtx, stmt.sql, stmt.args...)
			if err != nil {
				return errors.WithStack(err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// insertStatements renders events as INSERT ... ON CONFLICT DO NOTHING statements of at most chunkSize rows.
func (w *Writer) insertStatements(events []model.Event) ([]statement, error) {
	statements := make([]statement, 0, len(events)/w.chunkSize+1)
	for start := 0; start < len(events); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(events) {
			end = len(events)
		}
		ds := w.dialect.Insert(w.tableName).Cols(insertColumns...)
		for _, e := range events[start:end] {
			var price interface{}
			if e.Price != nil {
				price = *e.Price
			}
			ds = ds.Vals(goqu.Vals{
				e.EventId.String(),
				e.UserId,
				e.ProductId,
				e.ProductName,
				e.ProductCategory,
				string(e.EventType),
				price,
				e.EventTimestamp.UTC(),
			})
		}
		sql, args, err := ds.OnConflict(goqu.DoNothing()).Prepared(true).ToSQL()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		statements = append(statements, statement{sql: sql, args: args})
	}
	return statements, nil
}

// Count returns the number of rows in the events table.
func (w *Writer) Count(ctx *logctx.Context) (int64, error) {
	sql, _, err := w.dialect.From(w.tableName).Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var count int64
	if err := w.db.QueryRow(ctx, sql).Scan(&count); err != nil {
		w.metrics.RecordDBError(ingestmetrics.DBOperationRead)
		return 0, errors.WithStack(err)
	}
	return count, nil
}

// Check reports whether the database is reachable.
func (w *Writer) Check() error {
	ctx, cancel := logctx.WithTimeout(logctx.Background(), 5*time.Second)
	defer cancel()
	return errors.WithStack(w.db.Ping(ctx))
}

// WaitForDb pings db until it answers, up to attempts times with a fixed delay in between.
func WaitForDb(ctx *logctx.Context, db database.Pool, attempts uint, delay time.Duration) error {
	return retry.Do(
		func() error {
			return errors.WithStack(db.Ping(ctx))
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Infof("Postgres not ready (attempt %d of %d)", n+1, attempts)
		}),
	)
}
