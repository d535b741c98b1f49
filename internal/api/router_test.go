package api

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"air-quality-backend/config"
	"air-quality-backend/internal/model"
	"air-quality-backend/internal/store"
)

var testDBSeq atomic.Int64

// testConfig returns a config with limits high enough that tests never
// trip the rate limiter.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			RateLimitPerSec: 1000,
			RateLimitBurst:  1000,
		},
		Ingest: config.IngestConfig{
			NumericPolicy: config.PolicyCoerce,
		},
		Query: config.QueryConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
	}
}

// newTestRouter builds a router over a fresh in-memory SQLite store.
func newTestRouter(t *testing.T, mutate func(*config.Config)) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.SensorReading{}, &model.PushSubscription{}))

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	s := store.NewGormStore(db)
	return NewRouter(cfg, s, nil, nil), db
}

func readingCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&model.SensorReading{}).Count(&count).Error)
	return count
}
