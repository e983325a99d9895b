package sink

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
)

// fakeTable emulates an events table with a unique event_id: rows are staged per transaction and become visible
// on commit. Statements containing an event_id already present are skipped row by row.
type fakeTable struct {
	mu        sync.Mutex
	committed map[uuid.UUID]bool
}

func newFakeTable() *fakeTable {
	return &fakeTable{committed: map[uuid.UUID]bool{}}
}

func (t *fakeTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.committed)
}

// fakePool hands out fake transactions. failures, if set, decides the outcome of each transaction by attempt number
// (1 based).
type fakePool struct {
	table      *fakeTable
	failures   func(attempt int) error
	onBegin    func(attempt int)
	execFailAt int

	mu          sync.Mutex
	begins      int
	commits     int
	rollbacks   int
	statements  []string
	pingErr     error
	countResult int64
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	p.mu.Lock()
	p.begins++
	attempt := p.begins
	p.mu.Unlock()

	if p.onBegin != nil {
		p.onBegin(attempt)
	}
	if p.failures != nil {
		if err := p.failures(attempt); err != nil {
			return nil, err
		}
	}
	return &fakeTx{pool: p, staged: map[uuid.UUID]bool{}}, nil
}

func (p *fakePool) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) QueryRow(_ context.Context, sql string, _ ...interface{}) pgx.Row {
	p.mu.Lock()
	p.statements = append(p.statements, sql)
	p.mu.Unlock()
	return countRow{count: p.countResult}
}

func (p *fakePool) Ping(context.Context) error {
	return p.pingErr
}

type countRow struct {
	count int64
}

func (r countRow) Scan(dest ...interface{}) error {
	*dest[0].(*int64) = r.count
	return nil
}

type fakeTx struct {
	pgx.Tx
	pool   *fakePool
	staged map[uuid.UUID]bool
	execs  int
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	tx.execs++
	tx.pool.mu.Lock()
	tx.pool.statements = append(tx.pool.statements, sql)
	failAt := tx.pool.execFailAt
	tx.pool.mu.Unlock()
	if failAt > 0 && tx.execs == failAt {
		return nil, &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}
	if !strings.Contains(sql, "ON CONFLICT DO NOTHING") {
		return nil, errors.Errorf("unexpected statement %s", sql)
	}

	tx.pool.table.mu.Lock()
	defer tx.pool.table.mu.Unlock()
	inserted := 0
	for _, arg := range args {
		s, ok := arg.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		if !tx.pool.table.committed[id] && !tx.staged[id] {
			tx.staged[id] = true
			inserted++
		}
	}
	return pgconn.CommandTag("INSERT 0 " + strconv.Itoa(inserted)), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.pool.mu.Lock()
	tx.pool.commits++
	tx.pool.mu.Unlock()

	tx.pool.table.mu.Lock()
	defer tx.pool.table.mu.Unlock()
	for id := range tx.staged {
		tx.pool.table.committed[id] = true
	}
	tx.staged = nil
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if tx.staged == nil {
		return pgx.ErrTxClosed
	}
	tx.pool.mu.Lock()
	tx.pool.rollbacks++
	tx.pool.mu.Unlock()
	tx.staged = nil
	return nil
}
