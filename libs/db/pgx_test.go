package db

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigMerge(t *testing.T) {
	pc := defaultPoolConfig.merge(PoolConfig{MaxConns: 20})
	require.EqualValues(t, 20, pc.MaxConns)
	require.EqualValues(t, 1, pc.MinConns)
	require.Equal(t, 30*time.Minute, pc.MaxConnLifetime)

	pc = pc.merge(PoolConfig{MaxConnIdleTime: time.Minute})
	require.EqualValues(t, 20, pc.MaxConns)
	require.Equal(t, time.Minute, pc.MaxConnIdleTime)
}

func TestConstraintViolations(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: UniqueViolation})
	fk := fmt.Errorf("delete: %w", &pgconn.PgError{Code: ForeignKeyViolation})

	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsUniqueViolation(fk))
	require.True(t, IsForeignKeyViolation(fk))
	require.False(t, IsForeignKeyViolation(errors.New("other")))
}
