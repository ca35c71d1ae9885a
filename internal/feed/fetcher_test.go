package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testRSSFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>Test Blog</title>
    <link>https://example.com</link>
    <description>A test RSS feed</description>
    <item>
      <title>First post</title>
      <guid>post-1</guid>
      <link>https://example.com/post/1</link>
      <description>&lt;p&gt;Hello &lt;b&gt;HTML&lt;/b&gt; &amp;amp; friends&lt;/p&gt;&lt;p&gt;Second paragraph&lt;/p&gt;</description>
      <pubDate>Thu, 19 Feb 2026 08:00:00 +0800</pubDate>
      <enclosure url="https://example.com/1.jpg" type="image/jpeg" length="100"/>
    </item>
    <item>
      <title>AI news</title>
      <link>https://example.com/post/2</link>
      <description>Plain text</description>
      <pubDate>Thu, 19 Feb 2026 07:00:00 +0800</pubDate>
      <media:content url="https://example.com/2.png" medium="image"/>
    </item>
    <item>
      <title>Podcast</title>
      <link>https://example.com/post/3</link>
      <description>Audio only</description>
      <enclosure url="https://example.com/3.mp3" type="audio/mpeg" length="100"/>
    </item>
  </channel>
</rss>`

const testAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Blog</title>
  <entry>
    <title>Atom entry</title>
    <id>urn:atom:1</id>
    <link href="https://example.com/atom/1"/>
    <summary>Atom summary</summary>
    <updated>2026-02-19T09:00:00+08:00</updated>
  </entry>
</feed>`

func setupTestServer(content string, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, content)
	}))
}

func TestFetch_RSS(t *testing.T) {
	srv := setupTestServer(testRSSFeed, nil)
	defer srv.Close()

	f := NewFetcher()
	items, err := f.Fetch(context.Background(), Source{Name: "Test", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch 失败: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("期望 3 条，实际 %d", len(items))
	}

	first := items[0]
	if first.GUID != "post-1" || first.Title != "First post" || first.Link != "https://example.com/post/1" {
		t.Errorf("第一条字段不匹配: %+v", first)
	}
	if first.Description != "Hello HTML & friends Second paragraph" {
		t.Errorf("描述未正确去除标记: %q", first.Description)
	}
	if first.Published == nil || first.Published.UTC().Hour() != 0 {
		t.Errorf("发布时间解析错误: %v", first.Published)
	}
	if first.ImageURL != "https://example.com/1.jpg" {
		t.Errorf("enclosure 图片未识别: %q", first.ImageURL)
	}
	if items[1].ImageURL != "https://example.com/2.png" {
		t.Errorf("media:content 图片未识别: %q", items[1].ImageURL)
	}
	if items[2].ImageURL != "" {
		t.Errorf("音频 enclosure 不应作为图片: %q", items[2].ImageURL)
	}
	if items[2].Published != nil {
		t.Errorf("没有日期的条目 Published 应为 nil")
	}
}

func TestFetch_Atom(t *testing.T) {
	srv := setupTestServer(testAtomFeed, nil)
	defer srv.Close()

	items, err := NewFetcher().Fetch(context.Background(), Source{Name: "Atom", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch Atom 失败: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Atom entry" || items[0].Description != "Atom summary" {
		t.Fatalf("Atom 条目不匹配: %+v", items)
	}
	if items[0].Published == nil {
		t.Error("应回退到 updated 时间")
	}
}

func TestFetch_MaxItems(t *testing.T) {
	srv := setupTestServer(testRSSFeed, nil)
	defer srv.Close()

	items, err := NewFetcher(WithMaxItems(2)).Fetch(context.Background(), Source{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("期望 2 条，实际 %d", len(items))
	}
}

func TestFetch_InvalidFeed(t *testing.T) {
	srv := setupTestServer("not xml", nil)
	defer srv.Close()

	if _, err := NewFetcher().Fetch(context.Background(), Source{URL: srv.URL}); err == nil {
		t.Fatal("期望无效 Feed 返回错误")
	}
}

func TestFetch_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), Source{Name: "down", URL: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("期望 HTTP 502 错误，实际 %v", err)
	}
}

func TestFetch_UserAgentAndTimeout(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		if r.URL.Path == "/slow" {
			time.Sleep(200 * time.Millisecond)
		}
		fmt.Fprint(w, testAtomFeed)
	}))
	defer srv.Close()

	f := NewFetcher(WithTimeout(50 * time.Millisecond))
	if _, err := f.Fetch(context.Background(), Source{URL: srv.URL}); err != nil {
		t.Fatal(err)
	}
	if ua.Load() != userAgent {
		t.Errorf("User-Agent 不匹配: %v", ua.Load())
	}
	if _, err := f.Fetch(context.Background(), Source{URL: srv.URL + "/slow"}); err == nil {
		t.Error("期望超时错误")
	}
}

func TestFetch_CacheAndStale(t *testing.T) {
	var hits atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, testRSSFeed)
	}))
	defer srv.Close()

	now := time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)
	f := NewFetcher(WithCacheTTL(time.Minute))
	f.now = func() time.Time { return now }
	src := Source{Name: "Test", URL: srv.URL}

	if _, err := f.Fetch(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fetch(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("缓存有效期内不应重新抓取，hits=%d", hits.Load())
	}

	// 过期后抓取失败，使用旧缓存
	now = now.Add(2 * time.Minute)
	fail.Store(true)
	items, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("应返回旧缓存: %v", err)
	}
	if len(items) != 3 || hits.Load() != 2 {
		t.Errorf("items=%d hits=%d", len(items), hits.Load())
	}
}

func TestFetch_CacheFilePersists(t *testing.T) {
	var hits atomic.Int32
	srv := setupTestServer(testRSSFeed, &hits)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "feeds", "feed_cache.json")
	src := Source{Name: "Test", URL: srv.URL}

	if _, err := NewFetcher(WithCacheTTL(time.Hour), WithCacheFile(path)).Fetch(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	// 新实例从文件加载缓存
	items, err := NewFetcher(WithCacheTTL(time.Hour), WithCacheFile(path)).Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("应命中持久化缓存，hits=%d", hits.Load())
	}
	if len(items) != 3 || items[0].Published == nil {
		t.Errorf("持久化缓存内容不完整: %+v", items)
	}
}
