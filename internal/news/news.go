// Package news 聚合所有订阅源的条目，并为每条新闻附上三视角 AI 摘要。
package news

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/iabetor/newslens/internal/cache"
	"github.com/iabetor/newslens/internal/feed"
	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/summary"
)

// UntitledTitle 条目没有标题时使用的标题。
const UntitledTitle = "Untitled"

var errGenerationFailed = errors.New("summary generation failed")

// NewsItem 一条聚合后的新闻。只在单次请求中组装，不持久化。
type NewsItem struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Link        string           `json:"link"`
	PubDate     time.Time        `json:"pubDate"`
	Source      string           `json:"source"`
	Category    string           `json:"category"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	AISummary   *summary.Summary `json:"aiSummary,omitempty"`
}

// Fetcher 订阅源抓取能力。
type Fetcher interface {
	Fetch(ctx context.Context, src feed.Source) ([]feed.Item, error)
}

// Generator 三视角摘要生成能力，失败时返回 false。
type Generator interface {
	Generate(ctx context.Context, title, description string) (summary.Summary, bool)
}

// Aggregator 按 抓取 → 查缓存 → 生成 → 写缓存 → 排序 的流程组装新闻列表。
type Aggregator struct {
	sources   []feed.Source
	fetcher   Fetcher
	store     cache.Store
	generator Generator
	flights   singleflight.Group
	now       func() time.Time
}

// Option 配置 Aggregator。
type Option func(*Aggregator)

// WithCache 设置摘要缓存。
func WithCache(s cache.Store) Option {
	return func(a *Aggregator) { a.store = s }
}

// WithGenerator 设置摘要生成器。未设置时条目不带 AI 摘要。
func WithGenerator(g Generator) Option {
	return func(a *Aggregator) { a.generator = g }
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New 创建聚合器。
func New(sources []feed.Source, fetcher Fetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources: sources,
		fetcher: fetcher,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sources 返回配置的订阅源。
func (a *Aggregator) Sources() []feed.Source {
	return a.sources
}

// Aggregate 并发抓取所有订阅源并组装新闻列表，按发布时间倒序。
// 单个订阅源失败只会让它贡献零条，只有 ctx 取消时才返回错误。
func (a *Aggregator) Aggregate(ctx context.Context) ([]NewsItem, error) {
	start := time.Now()
	perSource := make([][]NewsItem, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			perSource[i] = a.collect(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("[news] 聚合中断: %w", err)
	}

	var all []NewsItem
	for _, items := range perSource {
		all = append(all, items...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].PubDate.After(all[j].PubDate)
	})

	logger.Infof("[news] 聚合完成: %d 个订阅源，%d 条，耗时 %s", len(a.sources), len(all), time.Since(start).Round(time.Millisecond))
	return all, nil
}

// collect 抓取单个订阅源并并发解析每个条目的摘要。
func (a *Aggregator) collect(ctx context.Context, src feed.Source) []NewsItem {
	raw, err := a.fetcher.Fetch(ctx, src)
	if err != nil {
		logger.Warnf("[news] 订阅源 %s 不可用: %v", src.Name, err)
		return nil
	}

	items := make([]NewsItem, len(raw))
	var g errgroup.Group
	for i, it := range raw {
		g.Go(func() error {
			items[i] = a.assemble(ctx, src, i, it)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (a *Aggregator) assemble(ctx context.Context, src feed.Source, index int, it feed.Item) NewsItem {
	title := it.Title
	if title == "" {
		title = UntitledTitle
	}
	ref := it.GUID
	if ref == "" {
		ref = it.Link
	}
	published := a.now()
	if it.Published != nil {
		published = *it.Published
	}

	item := NewsItem{
		ID:          fmt.Sprintf("%s-%d-%s", src.Name, index, ref),
		Title:       title,
		Description: it.Description,
		Link:        it.Link,
		PubDate:     published,
		Source:      src.Name,
		Category:    src.Category,
		ImageURL:    it.ImageURL,
	}
	if a.generator != nil {
		s := a.Summarize(ctx, it.Title, it.Description)
		item.AISummary = &s
	}
	return item
}

// Summarize 返回一篇文章的三视角摘要：缓存命中直接返回；未命中则生成并写入缓存；
// 生成失败返回占位摘要（占位摘要不写入缓存）。相同文章的并发请求只会生成一次。
func (a *Aggregator) Summarize(ctx context.Context, title, description string) summary.Summary {
	key := summary.ComputeKey(title, description)
	if s, ok := a.lookup(ctx, key); ok {
		return s
	}
	if a.generator == nil {
		return summary.Placeholder()
	}

	ch := a.flights.DoChan(key, func() (any, error) {
		// 生成结果由所有等待者共享，不随首个调用方取消
		genCtx := context.WithoutCancel(ctx)
		// 上一轮 flight 刚写入缓存时直接复用
		if s, ok := a.lookup(genCtx, key); ok {
			return s, nil
		}
		s, ok := a.generator.Generate(genCtx, title, description)
		if !ok {
			return nil, errGenerationFailed
		}
		if a.store != nil {
			a.store.Put(genCtx, key, s)
		}
		return s, nil
	})

	select {
	case <-ctx.Done():
		return summary.Placeholder()
	case res := <-ch:
		if res.Err != nil {
			return summary.Placeholder()
		}
		return res.Val.(summary.Summary)
	}
}

func (a *Aggregator) lookup(ctx context.Context, key string) (summary.Summary, bool) {
	if a.store == nil {
		return summary.Summary{}, false
	}
	return a.store.Get(ctx, key)
}
