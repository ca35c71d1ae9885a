package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iabetor/newslens/internal/cache"
	"github.com/iabetor/newslens/internal/config"
	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/summary"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Cache.Path = filepath.Join(dir, ".summaryCache.json")
	cfg.Cache.DBPath = filepath.Join(dir, "newslens.db")
	return cfg
}

func TestNew_DefaultsUseFileCacheAndLocalLimiters(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &cache.FileStore{}, a.store)
	assert.Len(t, a.locals, 2)
	assert.Nil(t, a.redis)
	assert.Nil(t, a.generator, "no API key configured")
}

func TestNew_SQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "sqlite"

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &cache.SQLiteStore{}, a.store)
	require.NotNil(t, a.db)

	a.store.Put(context.Background(), "k", summary.Placeholder())
	_, ok := a.store.Get(context.Background(), "k")
	assert.True(t, ok)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "memcached"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_RedisLimiters(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RateLimit.Redis.Addr = mr.Addr()

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.redis)
	assert.Empty(t, a.locals)
}

func TestNew_WithLLM(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Models = []config.ModelConfig{{Name: "primary", APIURL: "http://127.0.0.1:1/v1/", APIKey: "k", Model: "gpt-4o-mini"}}

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.generator)
}

func TestSweepCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.TTLHours = 1
	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	// 用独立的过期时钟写入同一个文件，再由 app 清理
	old := cache.NewFileStore(cfg.Cache.Path, cache.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	old.Put(context.Background(), "stale", summary.Placeholder())

	assert.Equal(t, 1, a.SweepCache(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSources(t *testing.T) {
	cfg := config.Default()
	src := Sources(cfg)
	require.Len(t, src, len(config.DefaultSources))
	assert.Equal(t, config.DefaultSources[0].Name, src[0].Name)
	assert.Equal(t, config.DefaultSources[0].Category, src[0].Category)
}

func TestClose_RepeatedCallsReleaseOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Backend = "sqlite"
	cfg.RateLimit.Redis.Addr = mr.Addr()

	a, err := New(cfg)
	require.NoError(t, err)

	// 只观察关闭阶段的告警
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.L
	logger.L = zap.New(core).Sugar()
	t.Cleanup(func() { logger.L = prev })

	a.Close()
	a.Close()

	assert.Zero(t, logs.Len(), "second Close must not touch closed clients: %v", logs.All())
}
