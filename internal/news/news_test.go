package news

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabetor/newslens/internal/cache"
	"github.com/iabetor/newslens/internal/feed"
	"github.com/iabetor/newslens/internal/summary"
)

type fakeFetcher struct {
	items map[string][]feed.Item
	fail  map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, src feed.Source) ([]feed.Item, error) {
	if f.fail[src.Name] {
		return nil, errors.New("feed down")
	}
	return f.items[src.Name], nil
}

type countingGenerator struct {
	calls atomic.Int32
	delay time.Duration
	fail  bool
}

func (g *countingGenerator) Generate(_ context.Context, title, description string) (summary.Summary, bool) {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.fail || title == "" || description == "" {
		return summary.Summary{}, false
	}
	return summary.Summary{Dev: "dev:" + title, Design: "design:" + title, Product: "product:" + title}, true
}

func ts(h int) *time.Time {
	t := time.Date(2026, 2, 19, h, 0, 0, 0, time.UTC)
	return &t
}

var testSources = []feed.Source{
	{Name: "Alpha", URL: "https://alpha.example/rss", Category: "AI"},
	{Name: "Beta", URL: "https://beta.example/rss", Category: "Design"},
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{items: map[string][]feed.Item{
		"Alpha": {
			{GUID: "a1", Title: "AI breakthrough", Description: "New model released", Link: "https://alpha.example/1", Published: ts(8)},
			{Title: "", Description: "no title", Link: "https://alpha.example/2", Published: ts(6)},
		},
		"Beta": {
			{Title: "Design tokens", Description: "A primer", Link: "https://beta.example/1", Published: ts(7), ImageURL: "https://beta.example/1.png"},
		},
	}}
}

func newStore(t *testing.T) *cache.FileStore {
	return cache.NewFileStore(filepath.Join(t.TempDir(), ".summaryCache.json"))
}

func TestAggregate_MergesAndSorts(t *testing.T) {
	gen := &countingGenerator{}
	a := New(testSources, newFetcher(), WithCache(newStore(t)), WithGenerator(gen))

	items, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "Alpha-0-a1", items[0].ID)
	assert.Equal(t, "Beta-0-https://beta.example/1", items[1].ID)
	assert.Equal(t, "Alpha-1-https://alpha.example/2", items[2].ID)

	assert.Equal(t, "AI", items[0].Category)
	assert.Equal(t, "https://beta.example/1.png", items[1].ImageURL)
	assert.Equal(t, UntitledTitle, items[2].Title)

	require.NotNil(t, items[0].AISummary)
	assert.Equal(t, "dev:AI breakthrough", items[0].AISummary.Dev)
	// 无标题条目生成失败，使用占位摘要
	assert.Equal(t, summary.Placeholder(), *items[2].AISummary)
}

func TestAggregate_SecondRequestHitsCache(t *testing.T) {
	gen := &countingGenerator{}
	store := newStore(t)
	a := New(testSources, newFetcher(), WithCache(store), WithGenerator(gen))

	_, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	first := gen.calls.Load()

	items, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	// 只有生成失败（未缓存）的无标题条目会再次调用
	assert.Equal(t, first+1, gen.calls.Load())
	assert.Equal(t, "dev:AI breakthrough", items[0].AISummary.Dev)

	_, ok := store.Get(context.Background(), summary.ComputeKey("AI breakthrough", "New model released"))
	assert.True(t, ok)
}

func TestSummarize_IdenticalRequestsGenerateOnce(t *testing.T) {
	gen := &countingGenerator{delay: 20 * time.Millisecond}
	a := New(nil, newFetcher(), WithCache(newStore(t)), WithGenerator(gen))

	var wg sync.WaitGroup
	results := make([]summary.Summary, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.Summarize(context.Background(), "AI breakthrough", "New model released")
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, gen.calls.Load())
	for _, r := range results {
		assert.Equal(t, "dev:AI breakthrough", r.Dev)
	}
}

func TestSummarize_FailureNotCached(t *testing.T) {
	gen := &countingGenerator{fail: true}
	store := newStore(t)
	a := New(nil, newFetcher(), WithCache(store), WithGenerator(gen))

	s := a.Summarize(context.Background(), "t", "d")
	assert.Equal(t, summary.Placeholder(), s)

	_, ok := store.Get(context.Background(), summary.ComputeKey("t", "d"))
	assert.False(t, ok, "placeholder must not be cached")

	a.Summarize(context.Background(), "t", "d")
	assert.EqualValues(t, 2, gen.calls.Load())
}

func TestSummarize_CallerCancelled(t *testing.T) {
	gen := &countingGenerator{delay: 200 * time.Millisecond}
	a := New(nil, newFetcher(), WithGenerator(gen))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Equal(t, summary.Placeholder(), a.Summarize(ctx, "t", "d"))
}

func TestAggregate_FailedFeedContributesNothing(t *testing.T) {
	f := newFetcher()
	f.fail = map[string]bool{"Alpha": true}
	a := New(testSources, f, WithGenerator(&countingGenerator{}))

	items, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Beta", items[0].Source)
}

func TestAggregate_NoGeneratorNoSummary(t *testing.T) {
	a := New(testSources, newFetcher())

	items, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	for _, it := range items {
		assert.Nil(t, it.AISummary)
	}
}

func TestAggregate_MissingDateUsesNow(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{items: map[string][]feed.Item{
		"Alpha": {
			{Title: "dated", Description: "d", Published: ts(8)},
			{Title: "undated", Description: "d"},
		},
	}}
	a := New(testSources[:1], f, WithClock(func() time.Time { return now }))

	items, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "undated", items[0].Title)
	assert.Equal(t, now, items[0].PubDate)
}

func TestAggregate_CancelledContext(t *testing.T) {
	a := New(testSources, newFetcher())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Aggregate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
