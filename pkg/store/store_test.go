package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenBootstrapsCatalog(t *testing.T) {
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.DB().Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)

	var tables []string
	require.NoError(t, s.DB().Select(&tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('datasets', 'staging_containers') ORDER BY name`))
	assert.Equal(t, []string{"datasets", "staging_containers"}, tables)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.DB().Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO t (v) VALUES (1)`)
		return err
	}))

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (v) VALUES (2)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.DB().Get(&count, `SELECT COUNT(*) FROM t`))
	assert.Equal(t, 1, count)
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"price", `"price"`},
		{"unit price", `"unit price"`},
		{`say "hi"`, `"say ""hi"""`},
		{`x"; DROP TABLE datasets; --`, `"x""; DROP TABLE datasets; --"`},
		{"select", `"select"`},
	}
	for _, tt := range tests {
		got, err := QuoteIdent(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := QuoteIdent("")
	assert.Error(t, err)
	_, err = QuoteIdent("a\x00b")
	assert.Error(t, err)
}

func TestQuotedIdentifiersRoundTrip(t *testing.T) {
	s := openTestStore(t)
	name := `weird "col"; DROP TABLE datasets; --`

	_, err := s.DB().Exec(`CREATE TABLE q (` + MustQuoteIdent(name) + ` TEXT)`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO q (`+MustQuoteIdent(name)+`) VALUES (?)`, "ok")
	require.NoError(t, err)

	rows, err := s.DB().Queryx(`SELECT ` + MustQuoteIdent(name) + ` FROM q`)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{name}, cols)

	var count int
	require.NoError(t, s.DB().Get(&count, `SELECT COUNT(*) FROM datasets`))
	assert.Equal(t, 0, count, "catalog survives")
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := RetryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	}, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	plain := errors.New("constraint failed")
	err = RetryOnBusy(func() error {
		calls++
		return plain
	}, 5)
	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 1, calls)
}
