package internal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/config"
)

func TestNewApp(t *testing.T) {
	conf := config.Default()
	conf.WALDir = filepath.Join(t.TempDir(), "ledger")
	conf.KafkaBrokers = []string{"localhost:9092"}

	app, err := NewApp(context.Background(), zap.NewNop(), conf)
	require.NoError(t, err)

	assert.NotNil(t, app.Scanner)
	assert.NotNil(t, app.Issuer)
	assert.NotNil(t, app.Reconciler)
	assert.Len(t, app.Reconciler.sinks, 2)
	assert.NotNil(t, app.Server())
	require.NoError(t, app.Close())
}

func TestNewApp_SQLiteWithoutAPI(t *testing.T) {
	conf := config.Default()
	conf.Storage = "sqlite"
	conf.DatabaseDSN = "file:" + filepath.Join(t.TempDir(), "ledger.db")
	conf.HTTPAddr = ""

	app, err := NewApp(context.Background(), nil, conf)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Server())
	assert.Len(t, app.Reconciler.sinks, 1)

	last, err := app.Ledger.LastIndex(context.Background())
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestNewApp_BadStorage(t *testing.T) {
	conf := config.Default()
	conf.Storage = "redis"

	_, err := NewApp(context.Background(), zap.NewNop(), conf)
	require.Error(t, err)
}
