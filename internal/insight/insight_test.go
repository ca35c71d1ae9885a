package insight

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabetor/newslens/internal/llm"
)

type stubCompleter struct {
	text string
	err  error
	req  llm.CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	s.req = req
	return s.text, s.err
}

func fixedRand() Option {
	return WithRand(rand.New(rand.NewSource(1)))
}

func TestGenerate_UpstreamFailureFallsBack(t *testing.T) {
	svc := NewService(&stubCompleter{err: errors.New("upstream exploded")}, fixedRand())

	resp, err := svc.Generate(context.Background(), Request{
		Title:       "AI breakthrough",
		Description: "New model released",
		Perspective: "dev",
	})
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Contains(t, resp.Insight, `"breakthrough"`)
	assert.Contains(t, resp.Insight, "model, released")
}

func TestGenerate_Success(t *testing.T) {
	stub := &stubCompleter{text: "  " + strings.Repeat("é", 600) + "  "}
	svc := NewService(stub)

	resp, err := svc.Generate(context.Background(), Request{Title: "Title", Description: "Desc"})
	require.NoError(t, err)
	assert.False(t, resp.Fallback)
	assert.Equal(t, MaxInsightLen, utf8.RuneCountInString(resp.Insight))

	assert.Equal(t, DefaultMaxTokens, stub.req.MaxTokens)
	assert.Equal(t, DefaultTemperature, stub.req.Temperature)
	// 默认视角 dev、默认分类 Tech
	assert.Contains(t, stub.req.Prompt, "Development (code, architecture, technologies)")
	assert.Contains(t, stub.req.Prompt, "Category: Tech")
}

func TestGenerate_EmptyOutputFallsBack(t *testing.T) {
	svc := NewService(&stubCompleter{text: "   "}, fixedRand())
	resp, err := svc.Generate(context.Background(), Request{Title: "Title", Perspective: "design"})
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
}

func TestGenerate_NoCompleterFallsBack(t *testing.T) {
	svc := NewService(nil, fixedRand())
	resp, err := svc.Generate(context.Background(), Request{Title: "Quarterly earnings report", Perspective: "business"})
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Contains(t, resp.Insight, "quarterly earnings report")
	assert.Contains(t, resp.Insight, "technology")
}

func TestGenerate_MissingTitle(t *testing.T) {
	stub := &stubCompleter{text: "x"}
	svc := NewService(stub)
	_, err := svc.Generate(context.Background(), Request{Title: "   ", Perspective: "dev"})
	assert.ErrorIs(t, err, ErrMissingTitle)
	assert.Empty(t, stub.req.Prompt, "no upstream call for invalid input")
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(Request{Title: "T", Perspective: "ops", Category: "Infra"})
	assert.Contains(t, p, "focusing on the ops perspective")
	assert.Contains(t, p, "Description: Not available")
	assert.Contains(t, p, "Category: Infra")
}

func TestFallback_Keywords(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	got := Fallback("The future of Web-Assembly runtimes", "How it changes browsers, servers and edge devices", "design", rnd)
	assert.Contains(t, got, `"future web assembly"`)
	assert.Contains(t, got, "changes, browsers, servers, edge, devices")

	// 标题全是停用词时取前 30 个字符
	got = Fallback("It is what it is and more than that too", "", "dev", rnd)
	assert.Contains(t, got, `"It is what it is and more than"`)
	assert.Contains(t, got, "technology")
}

func TestFallback_UnknownPerspectiveUsesDev(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		got := Fallback("Rust compilers", "", "marketing", rand.New(rand.NewSource(seed)))
		found := false
		for _, tpl := range fallbackTemplates["dev"] {
			prefix := strings.SplitN(tpl, "%", 2)[0]
			if strings.HasPrefix(got, prefix) {
				found = true
			}
		}
		assert.True(t, found, "unknown perspective should use a dev template: %s", got)
	}
}
