package checkpoint

import (
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/eventloader/internal/common/database"
	"github.com/armadaproject/eventloader/internal/common/loadererrors"
	"github.com/armadaproject/eventloader/internal/common/logctx"
)

// Kept in step with the sink migrations, which create the same tables next to the events table.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS ingestion_checkpoints (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		batch_id BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingested_files (
		name TEXT PRIMARY KEY,
		batch_id BIGINT NOT NULL,
		ingested_at TIMESTAMPTZ NOT NULL
	)`,
}

type postgresBackend struct {
	db      database.Pool
	dialect goqu.DialectWrapper
}

// NewPostgresStore stores checkpoints in the given database. The pool is owned by the caller and is not closed
// by Store.Close.
func NewPostgresStore(ctx *logctx.Context, db database.Pool, cacheSize int) (*Store, error) {
	if db == nil {
		return nil, errors.WithStack(&loadererrors.ErrInvalidArgument{
			Name:    "db",
			Value:   db,
			Message: "db must be non-nil",
		})
	}
	for _, stmt := range postgresSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, "creating checkpoint tables")
		}
	}
	ctx.Log.Info("Using postgres checkpoint store")
	return newStore(&postgresBackend{db: db, dialect: goqu.Dialect("postgres")}, cacheSize, clock.RealClock{})
}

func (b *postgresBackend) load(ctx *logctx.Context) (Checkpoint, error) {
	var cp Checkpoint
	err := b.db.QueryRow(ctx,
		"SELECT batch_id, updated_at FROM ingestion_checkpoints WHERE id = 1").Scan(&cp.BatchId, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, errors.WithStack(err)
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return cp, nil
}

func (b *postgresBackend) processed(ctx *logctx.Context, names []string) ([]string, error) {
	rows, err := b.db.Query(ctx, "SELECT name FROM ingested_files WHERE name = any($1)", names)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	found := make([]string, 0, len(names))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WithStack(err)
		}
		found = append(found, name)
	}
	return found, errors.WithStack(rows.Err())
}

func (b *postgresBackend) advance(ctx *logctx.Context, batchId int64, files []string, at time.Time) error {
	rows := make([]interface{}, 0, len(files))
	for _, name := range files {
		rows = append(rows, goqu.Record{"name": name, "batch_id": batchId, "ingested_at": at})
	}
	insertFiles, args, err := b.dialect.
		Insert(filesTable).
		Rows(rows...).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}

	return pgx.BeginTxFunc(ctx, b.db, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		var current int64
		err := tx.QueryRow(ctx,
			"SELECT batch_id FROM ingestion_checkpoints WHERE id = 1 FOR UPDATE").Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errors.WithStack(err)
		}
		if batchId <= current {
			return errNotAfter(batchId, current)
		}

		if _, err := tx.Exec(ctx, insertFiles, args...); err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ingestion_checkpoints (id, batch_id, updated_at) VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET batch_id = EXCLUDED.batch_id, updated_at = EXCLUDED.updated_at`,
			batchId, at)
		return errors.WithStack(err)
	})
}

func (b *postgresBackend) ping(ctx *logctx.Context) error {
	return errors.WithStack(b.db.Ping(ctx))
}

func (b *postgresBackend) close() error {
	return nil
}
