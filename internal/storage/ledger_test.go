package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	wal, err := Open(ctx, Options{Kind: KindWAL, WALDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, wal.Close())

	lite, err := Open(ctx, Options{Kind: KindSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	last, err := lite.LastIndex(ctx)
	require.NoError(t, err)
	require.Zero(t, last)
	require.NoError(t, lite.Close())

	_, err = Open(ctx, Options{Kind: "redis"})
	require.Error(t, err)
}
