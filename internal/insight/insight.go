// Package insight 针对单条新闻生成某个视角的深度解读，上游不可用时退回到基于关键词的模板。
package insight

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/iabetor/newslens/internal/llm"
	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/metrics"
)

const (
	DefaultPerspective = "dev"
	DefaultCategory    = "Tech"
	MaxInsightLen      = 500

	DefaultMaxTokens   = 200
	DefaultTemperature = 0.7
	DefaultTimeout     = 15 * time.Second
)

// ErrMissingTitle 请求缺少标题。
var ErrMissingTitle = errors.New("insight: title is required")

var perspectiveLabels = map[string]string{
	"design":   "Design (UX/UI, user experience, interfaces)",
	"dev":      "Development (code, architecture, technologies)",
	"business": "Business (strategy, market, ROI)",
}

// Request 解读请求。
type Request struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Perspective string `json:"perspective"`
}

// Response 解读结果。Fallback 为 true 表示来自本地模板。
type Response struct {
	Insight  string `json:"insight"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Service 解读生成服务。completer 为 nil 时总是使用本地模板。
type Service struct {
	completer   llm.Completer
	maxTokens   int
	temperature float64
	timeout     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option 配置 Service。
type Option func(*Service)

func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.temperature = t
		}
	}
}

// WithTimeout 设置单次上游调用的时限。
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRand 替换模板选择用的随机源，主要用于测试。
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rnd = r }
}

// NewService 创建解读服务。
func NewService(completer llm.Completer, opts ...Option) *Service {
	s := &Service{
		completer:   completer,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate 生成解读。只有缺少标题时返回错误，上游失败退回本地模板。
func (s *Service) Generate(ctx context.Context, req Request) (Response, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return Response{}, ErrMissingTitle
	}
	if req.Perspective == "" {
		req.Perspective = DefaultPerspective
	}
	if req.Category == "" {
		req.Category = DefaultCategory
	}

	if s.completer == nil {
		metrics.InsightRequests.WithLabelValues(req.Perspective, "fallback").Inc()
		return Response{Insight: s.fallback(req), Fallback: true}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.completer.Complete(callCtx, llm.CompletionRequest{
		Prompt:      BuildPrompt(req),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errors.New("empty output")
	}
	if err != nil {
		logger.Warnf("[insight] 生成失败，使用本地模板: %v", err)
		metrics.InsightRequests.WithLabelValues(req.Perspective, "fallback").Inc()
		return Response{Insight: s.fallback(req), Fallback: true}, nil
	}

	metrics.InsightRequests.WithLabelValues(req.Perspective, "ok").Inc()
	return Response{Insight: truncate(text, MaxInsightLen)}, nil
}

// BuildPrompt 构造解读提示词。
func BuildPrompt(req Request) string {
	label, ok := perspectiveLabels[req.Perspective]
	if !ok {
		label = req.Perspective
	}
	desc := req.Description
	if desc == "" {
		desc = "Not available"
	}

	return fmt.Sprintf(`You are an analyst specialized in technology.
Write ONE UNIQUE and SPECIFIC insight of 450-500 characters about this news item, focusing on the %s perspective.

NEWS:
Title: %s
Description: %s
Category: %s

IMPORTANT RULES:
- The insight MUST be based specifically on the title and description above
- Be specific and actionable, mentioning concrete elements of the news
- Do NOT repeat the news title literally
- Focus on practical implications for professionals in the field
- Do not use bullet points, write continuous prose
- Start directly with the insight, without introductions like "This article..." or "This news..."
- Between 450-500 characters (including spaces)`, label, req.Title, desc, req.Category)
}

func (s *Service) fallback(req Request) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Fallback(req.Title, req.Description, req.Perspective, s.rnd)
}

func truncate(str string, n int) string {
	if utf8.RuneCountInString(str) <= n {
		return str
	}
	return string([]rune(str)[:n])
}
