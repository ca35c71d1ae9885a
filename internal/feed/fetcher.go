package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/metrics"
)

const (
	DefaultMaxItems     = 10
	DefaultFetchTimeout = 10 * time.Second
	userAgent           = "NewsLens/1.0 RSS Reader"
)

// Fetcher 负责抓取订阅源，可选地在内存（及文件）中缓存解析结果。
type Fetcher struct {
	mu        sync.RWMutex
	saveMu    sync.Mutex // 串行化缓存文件写入
	cache     map[string]cachedFeed // key: feed URL
	cacheTTL  time.Duration
	cachePath string
	maxItems  int
	parser    *gofeed.Parser
	client    *http.Client
	now       func() time.Time
}

// cachedFeed 单个 Feed 的缓存。
type cachedFeed struct {
	FetchedAt time.Time `json:"fetched_at"`
	Items     []Item    `json:"items"`
}

// Option 配置 Fetcher。
type Option func(*Fetcher)

// WithCacheTTL 开启订阅源缓存，ttl <= 0 表示每次都重新抓取。
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) { f.cacheTTL = ttl }
}

// WithCacheFile 把订阅源缓存持久化到文件，进程重启后仍可使用。
func WithCacheFile(path string) Option {
	return func(f *Fetcher) { f.cachePath = path }
}

// WithMaxItems 每个订阅源最多保留的条目数。
func WithMaxItems(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxItems = n
		}
	}
}

// WithTimeout 设置单次抓取的传输层超时。
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithHTTPClient 替换 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// NewFetcher 创建订阅源抓取器。
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:    make(map[string]cachedFeed),
		maxItems: DefaultMaxItems,
		parser:   gofeed.NewParser(),
		client:   &http.Client{Timeout: DefaultFetchTimeout},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.cachePath != "" {
		if err := f.loadCache(); err != nil {
			logger.Warnf("[feed] 加载缓存失败: %v", err)
		}
	}
	return f
}

// Fetch 获取订阅源的前若干条目（缓存有效时直接返回缓存）。
// 抓取失败但有旧缓存时返回旧缓存。
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]Item, error) {
	f.mu.RLock()
	cached, hasCached := f.cache[src.URL]
	f.mu.RUnlock()

	if f.cacheTTL > 0 && hasCached && f.now().Sub(cached.FetchedAt) < f.cacheTTL {
		metrics.FeedFetches.WithLabelValues(src.Name, "cached").Inc()
		return cached.Items, nil
	}

	parsed, err := f.parseFeed(ctx, src.URL)
	if err != nil {
		if f.cacheTTL > 0 && hasCached {
			logger.Warnf("[feed] 抓取 %s 失败，使用旧缓存: %v", src.Name, err)
			metrics.FeedFetches.WithLabelValues(src.Name, "stale").Inc()
			return cached.Items, nil
		}
		metrics.FeedFetches.WithLabelValues(src.Name, "error").Inc()
		return nil, fmt.Errorf("[feed] 抓取 %s 失败: %w", src.Name, err)
	}
	metrics.FeedFetches.WithLabelValues(src.Name, "ok").Inc()

	items := f.convertItems(parsed)
	if f.cacheTTL > 0 {
		f.mu.Lock()
		f.cache[src.URL] = cachedFeed{FetchedAt: f.now(), Items: items}
		f.mu.Unlock()
		if f.cachePath != "" {
			f.saveCache()
		}
	}
	return items, nil
}

// parseFeed 解析 Feed URL。
func (f *Fetcher) parseFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return f.parser.Parse(resp.Body)
}

// convertItems 将 gofeed 条目转换为 Item。
func (f *Fetcher) convertItems(parsed *gofeed.Feed) []Item {
	n := f.maxItems
	if len(parsed.Items) < n {
		n = len(parsed.Items)
	}

	items := make([]Item, 0, n)
	for _, gItem := range parsed.Items[:n] {
		desc := gItem.Description
		if desc == "" {
			desc = gItem.Content
		}

		var published *time.Time
		if gItem.PublishedParsed != nil {
			published = gItem.PublishedParsed
		} else if gItem.UpdatedParsed != nil {
			published = gItem.UpdatedParsed
		}

		items = append(items, Item{
			GUID:        gItem.GUID,
			Title:       strings.TrimSpace(gItem.Title),
			Description: StripMarkup(desc, MaxDescriptionLen),
			Link:        gItem.Link,
			Published:   published,
			ImageURL:    imageURL(gItem),
		})
	}
	return items
}

// imageURL 依次尝试条目图片、图片类型的 enclosure、media:content / media:thumbnail。
func imageURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc.URL != "" && (enc.Type == "" || strings.HasPrefix(enc.Type, "image")) {
			return enc.URL
		}
	}
	media := item.Extensions["media"]
	for _, name := range []string{"content", "thumbnail"} {
		if u := firstMediaURL(media[name]); u != "" {
			return u
		}
	}
	return ""
}

func firstMediaURL(exts []ext.Extension) string {
	for _, e := range exts {
		u := e.Attrs["url"]
		if u == "" {
			continue
		}
		medium, typ := e.Attrs["medium"], e.Attrs["type"]
		if medium == "image" || typ == "" || strings.HasPrefix(typ, "image") {
			return u
		}
	}
	return ""
}

func (f *Fetcher) loadCache() error {
	data, err := os.ReadFile(f.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.Unmarshal(data, &f.cache)
}

func (f *Fetcher) saveCache() {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	f.mu.RLock()
	data, err := json.Marshal(f.cache)
	f.mu.RUnlock()
	if err != nil {
		logger.Warnf("[feed] 序列化缓存失败: %v", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(f.cachePath), 0755); err != nil {
		logger.Warnf("[feed] 创建缓存目录失败: %v", err)
		return
	}
	tmp := f.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.Warnf("[feed] 保存缓存失败: %v", err)
		return
	}
	if err := os.Rename(tmp, f.cachePath); err != nil {
		logger.Warnf("[feed] 保存缓存失败: %v", err)
	}
}
