// Package app 根据配置组装缓存、限流、摘要生成、聚合和 HTTP 服务，并管理它们的生命周期。
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iabetor/newslens/internal/cache"
	"github.com/iabetor/newslens/internal/config"
	"github.com/iabetor/newslens/internal/database"
	"github.com/iabetor/newslens/internal/feed"
	"github.com/iabetor/newslens/internal/insight"
	"github.com/iabetor/newslens/internal/llm"
	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/news"
	"github.com/iabetor/newslens/internal/ratelimit"
	"github.com/iabetor/newslens/internal/server"
	"github.com/iabetor/newslens/internal/summarizer"
)

// App 持有所有组件。
type App struct {
	cfg *config.Config

	db        *database.DB
	store     cache.Store
	redis     *redis.Client
	locals    []*ratelimit.LocalLimiter
	generator *summarizer.Generator
	server    *server.Server

	closeOnce sync.Once
}

// New 根据配置创建并初始化全部组件。
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	var err error
	a.store, err = a.newStore()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("初始化摘要缓存失败: %w", err)
	}

	// 大模型（可选，没有 API Key 时摘要和解读都走降级路径）
	var completer llm.Completer
	if cfg.LLM.Enabled() {
		models := make([]llm.ModelConfig, 0, len(cfg.LLM.Models))
		for _, m := range cfg.LLM.Models {
			models = append(models, llm.ModelConfig{Name: m.Name, APIURL: m.APIURL, APIKey: m.APIKey, Model: m.Model})
		}
		mp, err := llm.NewMultiProvider(models, time.Duration(cfg.LLM.RequestTimeoutSec)*time.Second)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("初始化 LLM 失败: %w", err)
		}
		completer = mp

		a.generator, err = summarizer.New(mp,
			summarizer.WithSystemPrompt(cfg.LLM.SystemPrompt),
			summarizer.WithMaxTokens(cfg.LLM.PersonaMaxTokens),
			summarizer.WithTemperature(cfg.LLM.Temperature),
			summarizer.WithTimeout(time.Duration(cfg.LLM.TimeoutSec)*time.Second),
			summarizer.WithConcurrency(cfg.LLM.MaxConcurrency),
		)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("初始化摘要生成器失败: %w", err)
		}
	} else {
		logger.Warnf("[app] 未配置可用的 LLM 模型，新闻将不带 AI 摘要，解读使用本地模板")
	}

	rssLimiter, insightLimiter := a.newLimiters()

	fetcherOpts := []feed.Option{
		feed.WithMaxItems(cfg.Feeds.ItemsPerFeed),
		feed.WithTimeout(time.Duration(cfg.Feeds.FetchTimeoutSec) * time.Second),
	}
	if cfg.Feeds.CacheTTLMin > 0 {
		fetcherOpts = append(fetcherOpts,
			feed.WithCacheTTL(time.Duration(cfg.Feeds.CacheTTLMin)*time.Minute),
			feed.WithCacheFile(filepath.Join(cfg.DataDir, "feed_cache.json")),
		)
	}

	newsOpts := []news.Option{news.WithCache(a.store)}
	if a.generator != nil {
		newsOpts = append(newsOpts, news.WithGenerator(a.generator))
	}
	aggregator := news.New(Sources(cfg), feed.NewFetcher(fetcherOpts...), newsOpts...)

	insightSvc := insight.NewService(completer,
		insight.WithMaxTokens(cfg.LLM.InsightMaxTokens),
		insight.WithTemperature(cfg.LLM.Temperature),
		insight.WithTimeout(time.Duration(cfg.LLM.InsightTimeoutSec)*time.Second),
	)

	deps := server.Deps{
		News:         aggregator,
		Insight:      insightSvc,
		RSSRoute:     server.Route{Limiter: rssLimiter},
		InsightRoute: server.Route{Limiter: insightLimiter},
	}
	if cfg.RateLimit.RSS.Fallback {
		deps.RSSRoute.Fallback = map[string]any{"items": []news.NewsItem{}}
	}
	if cfg.RateLimit.Insight.Fallback {
		deps.InsightRoute.Fallback = map[string]any{
			"insight":  "Insights are temporarily limited. Please try again in a minute.",
			"fallback": true,
		}
	}
	a.server = server.New(cfg.Server, deps)

	logger.Infof("[app] 所有组件初始化完成（%d 个订阅源，缓存后端 %s）", len(cfg.Feeds.Sources), cfg.Cache.Backend)
	return a, nil
}

// Sources 把配置中的订阅源转换为 feed.Source。
func Sources(cfg *config.Config) []feed.Source {
	out := make([]feed.Source, 0, len(cfg.Feeds.Sources))
	for _, s := range cfg.Feeds.Sources {
		out = append(out, feed.Source{Name: s.Name, URL: s.URL, Category: s.Category})
	}
	return out
}

func (a *App) newStore() (cache.Store, error) {
	opts := []cache.Option{cache.WithTTL(a.cfg.Cache.TTL())}

	switch a.cfg.Cache.Backend {
	case "sqlite":
		db, err := database.Open(a.cfg.Cache.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		logger.Infof("[app] 摘要缓存使用 SQLite: %s", db.Path())
		return cache.NewSQLiteStore(db, opts...), nil
	case "file", "":
		logger.Infof("[app] 摘要缓存使用文件: %s", a.cfg.Cache.Path)
		return cache.NewFileStore(a.cfg.Cache.Path, opts...), nil
	default:
		return nil, fmt.Errorf("未知的缓存后端: %s", a.cfg.Cache.Backend)
	}
}

// newLimiters 配置了 Redis 时使用分布式限流，否则每个接口一个进程内限流器。
func (a *App) newLimiters() (rss, insightL ratelimit.Limiter) {
	rl := a.cfg.RateLimit
	if rl.Redis.Addr != "" {
		timeout := time.Duration(rl.Redis.TimeoutMs) * time.Millisecond
		a.redis = redis.NewClient(&redis.Options{
			Addr:         rl.Redis.Addr,
			Password:     rl.Redis.Password,
			DB:           rl.Redis.DB,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			// 限流是 fail-open 的，Redis 暂时不可用不影响启动
			logger.Warnf("[app] Redis %s 连接失败，限流将放行请求: %v", rl.Redis.Addr, err)
		} else {
			logger.Infof("[app] 分布式限流已连接 Redis: %s", rl.Redis.Addr)
		}

		rss = ratelimit.NewRedisLimiter(a.redis, rl.RSS.Limit, rl.RSS.Window(), rl.RSS.Prefix)
		insightL = ratelimit.NewRedisLimiter(a.redis, rl.Insight.Limit, rl.Insight.Window(), rl.Insight.Prefix)
		return rss, insightL
	}

	sweep := ratelimit.WithSweepInterval(time.Duration(rl.SweepIntervalSec) * time.Second)
	rssLocal := ratelimit.NewLocalLimiter(rl.RSS.Limit, rl.RSS.Window(), sweep)
	insightLocal := ratelimit.NewLocalLimiter(rl.Insight.Limit, rl.Insight.Window(), sweep)
	a.locals = append(a.locals, rssLocal, insightLocal)
	logger.Info("[app] 使用进程内限流")
	return rssLocal, insightLocal
}

// Run 启动后台清理任务和 HTTP 服务，阻塞直到 ctx 被取消。
func (a *App) Run(ctx context.Context) error {
	for _, l := range a.locals {
		l.Start()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cache.RunSweeper(ctx, a.store, time.Duration(a.cfg.Cache.SweepIntervalMin)*time.Minute)
	}()

	err := a.server.Run(ctx)
	wg.Wait()
	return err
}

// SweepCache 立即清除过期的摘要缓存，返回清除数量。
func (a *App) SweepCache(ctx context.Context) int {
	return a.store.SweepExpired(ctx)
}

// Close 释放所有资源，重复调用无效。
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	logger.Info("[app] 正在关闭...")

	for _, l := range a.locals {
		l.Stop()
	}
	if a.generator != nil {
		a.generator.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warnf("[app] 关闭 Redis 连接失败: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warnf("[app] 关闭数据库失败: %v", err)
		}
	}

	logger.Info("[app] 已关闭")
}
