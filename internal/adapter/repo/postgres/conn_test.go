package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "://bad")
	require.Error(t, err)
}

type execRecorder struct {
	PgxPool
	sqls []string
	err  error
}

func (e *execRecorder) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	e.sqls = append(e.sqls, sql)
	return pgconn.CommandTag{}, e.err
}

func TestMigrate_AppliesEmbeddedFiles(t *testing.T) {
	rec := &execRecorder{}
	require.NoError(t, Migrate(context.Background(), rec))
	require.NotEmpty(t, rec.sqls)
	assert.Contains(t, rec.sqls[0], "CREATE TABLE IF NOT EXISTS submissions")
	assert.Contains(t, rec.sqls[0], "CREATE TABLE IF NOT EXISTS sample_questions")
}

func TestMigrate_PropagatesError(t *testing.T) {
	rec := &execRecorder{err: assert.AnError}
	err := Migrate(context.Background(), rec)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "0001_init.sql")
}
