package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value int
	err   error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int) = r.value
	return nil
}

// recordingQuerier keeps the database_version sequence in memory and records every statement it sees.
type recordingQuerier struct {
	version  int
	executed []string
	failOn   string
}

func (q *recordingQuerier) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if q.failOn != "" && sql == q.failOn {
		return nil, errors.New("syntax error")
	}
	if sql == `SELECT setval('database_version', $1)` {
		q.version = args[0].(int)
		return pgconn.CommandTag("SELECT 1"), nil
	}
	q.executed = append(q.executed, sql)
	return pgconn.CommandTag(""), nil
}

func (q *recordingQuerier) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (q *recordingQuerier) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return fakeRow{value: q.version}
}

func testMigrationFs() fstest.MapFS {
	return fstest.MapFS{
		"migrations/002_add_index.sql":      {Data: []byte("CREATE INDEX b;")},
		"migrations/001_init.sql":           {Data: []byte("CREATE TABLE a;")},
		"migrations/010_add_checkpoint.sql": {Data: []byte("CREATE TABLE c;")},
		"migrations/README.md":              {Data: []byte("not a migration")},
	}
}

func TestReadMigrations(t *testing.T) {
	migrations, err := ReadMigrations(testMigrationFs(), "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, []int{1, 2, 10}, []int{migrations[0].id, migrations[1].id, migrations[2].id})
	assert.Equal(t, "001_init.sql", migrations[0].name)
	assert.Equal(t, "CREATE TABLE c;", migrations[2].sql)
}

func TestReadMigrations_BadName(t *testing.T) {
	fsys := fstest.MapFS{"migrations/init.sql": {Data: []byte("CREATE TABLE a;")}}
	_, err := ReadMigrations(fsys, "migrations")
	assert.Error(t, err)
}

func TestUpdateDatabase(t *testing.T) {
	migrations := []Migration{
		NewMigration(1, "001_init.sql", "CREATE TABLE a;"),
		NewMigration(2, "002_add_index.sql", "CREATE INDEX b;"),
		NewMigration(3, "003_more.sql", "CREATE TABLE c;"),
	}

	tests := map[string]struct {
		startVersion    int
		expectedApplied []string
	}{
		"fresh database": {
			startVersion:    0,
			expectedApplied: []string{"CREATE TABLE a;", "CREATE INDEX b;", "CREATE TABLE c;"},
		},
		"partially migrated": {
			startVersion:    2,
			expectedApplied: []string{"CREATE TABLE c;"},
		},
		"up to date": {
			startVersion: 3,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			q := &recordingQuerier{version: tc.startVersion}
			err := UpdateDatabase(context.Background(), q, migrations)
			require.NoError(t, err)

			// The first statement always ensures the version sequence exists.
			require.NotEmpty(t, q.executed)
			assert.Contains(t, q.executed[0], "CREATE SEQUENCE IF NOT EXISTS database_version")
			assert.Equal(t, tc.expectedApplied, nilIfEmpty(q.executed[1:]))
			assert.Equal(t, 3, q.version)
		})
	}
}

func TestUpdateDatabase_StopsOnFailure(t *testing.T) {
	migrations := []Migration{
		NewMigration(1, "001_init.sql", "CREATE TABLE a;"),
		NewMigration(2, "002_broken.sql", "CREATE BROKEN;"),
		NewMigration(3, "003_more.sql", "CREATE TABLE c;"),
	}
	q := &recordingQuerier{failOn: "CREATE BROKEN;"}
	err := UpdateDatabase(context.Background(), q, migrations)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_broken.sql")
	assert.Equal(t, 1, q.version)
}

func TestCreateConnectionString(t *testing.T) {
	tests := map[string]struct {
		values   map[string]string
		expected string
	}{
		"empty": {
			values:   map[string]string{},
			expected: "",
		},
		"sorted keys": {
			values:   map[string]string{"port": "5432", "host": "localhost", "dbname": "events"},
			expected: "dbname='events' host='localhost' port='5432'",
		},
		"escaped values": {
			values:   map[string]string{"password": `it's\secret`},
			expected: `password='it\'s\\secret'`,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CreateConnectionString(tc.values))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
