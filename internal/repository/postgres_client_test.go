package repository

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	raw []byte
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.raw
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakePgx struct {
	row       fakeRow
	execErr   error
	lastQuery string
	lastArgs  []any
	execs     []execCall
}

func (f *fakePgx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastQuery = sql
	f.lastArgs = args
	return f.row
}

func (f *fakePgx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func mustNewPostgresStore(t *testing.T, db *fakePgx) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(db)
	require.NoError(t, err)
	return s
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestPostgresGet_HappyPath(t *testing.T) {
	db := &fakePgx{row: fakeRow{raw: []byte(`[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`)}}
	h, ok, err := mustNewPostgresStore(t, db).Get(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleHistory(), h)
	require.Equal(t, selectHistorySQL, db.lastQuery)
	require.Equal(t, []any{"U1"}, db.lastArgs)
}

func TestPostgresGet_NoRows(t *testing.T) {
	db := &fakePgx{row: fakeRow{err: pgx.ErrNoRows}}
	h, ok, err := mustNewPostgresStore(t, db).Get(context.Background(), "U1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, h)
}

func TestPostgresGet_Errors(t *testing.T) {
	db := &fakePgx{row: fakeRow{err: errors.New("conn reset")}}
	_, _, err := mustNewPostgresStore(t, db).Get(context.Background(), "U1")
	require.ErrorContains(t, err, "conn reset")

	db = &fakePgx{row: fakeRow{raw: []byte(`{"not":"a list"}`)}}
	_, _, err = mustNewPostgresStore(t, db).Get(context.Background(), "U1")
	require.ErrorContains(t, err, "decode")
}

func TestPostgresPut_Upserts(t *testing.T) {
	db := &fakePgx{}
	require.NoError(t, mustNewPostgresStore(t, db).Put(context.Background(), "G1", sampleHistory()))

	require.Len(t, db.execs, 1)
	require.Equal(t, upsertHistorySQL, db.execs[0].sql)
	require.Equal(t, "G1", db.execs[0].args[0])
	require.JSONEq(t,
		`[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`,
		string(db.execs[0].args[1].([]byte)))
}

func TestPostgresPut_NilHistory(t *testing.T) {
	db := &fakePgx{}
	require.NoError(t, mustNewPostgresStore(t, db).Put(context.Background(), "G1", nil))
	require.Equal(t, "[]", string(db.execs[0].args[1].([]byte)))
}

func TestPostgresDelete(t *testing.T) {
	db := &fakePgx{}
	s := mustNewPostgresStore(t, db)
	require.NoError(t, s.Delete(context.Background(), "R1"))
	require.Equal(t, deleteHistorySQL, db.execs[0].sql)

	db.execErr = errors.New("boom")
	require.ErrorContains(t, s.Delete(context.Background(), "R1"), "boom")
	require.ErrorContains(t, s.Put(context.Background(), "R1", sampleHistory()), "boom")
}

func TestMigrations_Embedded(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Contains(t, names, "000001_create_chat_history.up.sql")
	require.Contains(t, names, "000001_create_chat_history.down.sql")

	up, err := fs.ReadFile(Migrations(), "000001_create_chat_history.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS chat_history")
}
