package checkpoint

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
	_ "modernc.org/sqlite"

	"github.com/armadaproject/eventloader/internal/common/logctx"
)

const filesTable = "ingested_files"

const lookupChunkSize = 500

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ingestion_checkpoints (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		batch_id INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingested_files (
		name TEXT PRIMARY KEY,
		batch_id INTEGER NOT NULL,
		ingested_at INTEGER NOT NULL
	)`,
}

type sqliteBackend struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// NewSqliteStore opens (creating if needed) a checkpoint database at path.
func NewSqliteStore(ctx *logctx.Context, path string, cacheSize int) (*Store, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating directory %s for checkpoint db", dbDir)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint db %s", path)
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "creating checkpoint tables")
		}
	}
	ctx.Log.Infof("Using sqlite checkpoint store at %s", path)

	store, err := newStore(&sqliteBackend{db: db, dialect: goqu.Dialect("sqlite3")}, cacheSize, clock.RealClock{})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (b *sqliteBackend) load(ctx *logctx.Context) (Checkpoint, error) {
	var batchId, updatedAt int64
	err := b.db.QueryRowContext(ctx,
		"SELECT batch_id, updated_at FROM ingestion_checkpoints WHERE id = 1").Scan(&batchId, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, errors.WithStack(err)
	}
	return Checkpoint{BatchId: batchId, UpdatedAt: time.Unix(updatedAt, 0).UTC()}, nil
}

// processed looks names up lookupChunkSize at a time, keeping each query under sqlite's bound-parameter limit.
func (b *sqliteBackend) processed(ctx *logctx.Context, names []string) ([]string, error) {
	found := make([]string, 0, len(names))
	for start := 0; start < len(names); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(names) {
			end = len(names)
		}
		chunk, err := b.processedChunk(ctx, names[start:end])
		if err != nil {
			return nil, err
		}
		found = append(found, chunk...)
	}
	return found, nil
}

func (b *sqliteBackend) processedChunk(ctx *logctx.Context, names []string) ([]string, error) {
	query, args, err := b.dialect.
		From(filesTable).
		Select("name").
		Where(goqu.C("name").In(names)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
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

func (b *sqliteBackend) advance(ctx *logctx.Context, batchId int64, files []string, at time.Time) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT batch_id FROM ingestion_checkpoints WHERE id = 1").Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.WithStack(err)
	}
	if batchId <= current {
		return errNotAfter(batchId, current)
	}

	for _, name := range files {
		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO ingested_files (name, batch_id, ingested_at) VALUES (?, ?, ?)",
			name, batchId, at.Unix())
		if err != nil {
			return errors.WithStack(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ingestion_checkpoints (id, batch_id, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET batch_id = excluded.batch_id, updated_at = excluded.updated_at`,
		batchId, at.Unix())
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(tx.Commit())
}

func (b *sqliteBackend) ping(ctx *logctx.Context) error {
	return errors.WithStack(b.db.PingContext(ctx))
}

func (b *sqliteBackend) close() error {
	return errors.WithStack(b.db.Close())
}
