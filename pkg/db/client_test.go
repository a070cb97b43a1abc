package db_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/dbtest"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "db-test", Output: buf})
}

func newAsset(url string) *models.CacheAsset {
	return &models.CacheAsset{ID: uuid.New(), OriginalURL: url, Status: enums.CacheAssetStatusPending}
}

func countAssets(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.CacheAsset{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	conn := dbtest.Open(t)
	client := db.Wrap(conn)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(newAsset("https://cdn.example/a.jpg")).Error
	}))
	require.EqualValues(t, 1, countAssets(t, conn))

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(newAsset("https://cdn.example/b.jpg")).Error)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 1, countAssets(t, conn))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	conn := dbtest.Open(t)
	client := db.Wrap(conn)

	require.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(newAsset("https://cdn.example/c.jpg")).Error)
			panic("handler exploded")
		})
	})
	require.EqualValues(t, 0, countAssets(t, conn))
}

func TestPing(t *testing.T) {
	client := db.Wrap(dbtest.Open(t))
	require.NoError(t, client.Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := db.New(context.Background(), config.DBConfig{SlowQueryThreshold: time.Second}, nil)
	require.ErrorContains(t, err, "DSN")
}

func TestQueryLoggerForwardsSlowQueries(t *testing.T) {
	var buf bytes.Buffer
	logg := testLogger(&buf)
	conn := dbtest.Open(t).Session(&gorm.Session{Logger: db.QueryLogger(logg, time.Nanosecond)})

	require.NoError(t, conn.Exec("SELECT 1").Error)
	require.Contains(t, buf.String(), "SLOW SQL")
	require.Contains(t, buf.String(), `"level":"warn"`)
}
