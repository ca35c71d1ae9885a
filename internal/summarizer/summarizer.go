// Package summarizer 为一篇文章并发生成开发、设计、产品三个视角的一句话摘要。
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"

	"github.com/iabetor/newslens/internal/llm"
	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/metrics"
	"github.com/iabetor/newslens/internal/summary"
)

const (
	// MaxTitleLen 标题最大字符数。
	MaxTitleLen = 500
	// MaxDescriptionLen 描述最大字符数。
	MaxDescriptionLen = 2000

	promptTitleLen       = 200
	promptDescriptionLen = 500
	maxSummaryLen        = 150

	// DefaultTimeout 一篇文章三个视角调用的整体时限，从获得执行名额后开始计时。
	DefaultTimeout = 8 * time.Second
	// DefaultMaxTokens 单次调用的最大输出 token。
	DefaultMaxTokens = 100
	// DefaultTemperature 采样温度。
	DefaultTemperature = 0.7
	// DefaultConcurrency 进程内同时进行的上游调用上限。
	DefaultConcurrency = 8
)

// DefaultSystemPrompt 摘要生成的系统提示词。
const DefaultSystemPrompt = "You are a professional summarizer. Generate concise, one-sentence summaries. Be direct and insightful."

var (
	// ErrInvalidInput 标题或描述为空或超长，不会发起上游调用。
	ErrInvalidInput = errors.New("summarizer: invalid input")
	// ErrTimeout 三个视角未能在时限内全部完成。
	ErrTimeout = errors.New("summarizer: generation timed out")

	errEmptyOutput = errors.New("empty output")
)

// Generator 三视角摘要生成器。
// 三次调用共享一个带截止时间的 ctx，任一视角失败即整体失败，不返回部分结果。
//
// 并发按文章准入：一篇文章先一次性占住三个调用名额，再开始计时并提交三个调用，
// 排队等待名额的时间不计入时限。
type Generator struct {
	completer   llm.Completer
	pool        *ants.Pool
	slots       *semaphore.Weighted
	weight      int64 // 每篇文章占用的名额数
	system      string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	concurrency int
}

// Option 配置 Generator。
type Option func(*Generator)

// WithTimeout 设置三视角整体时限。
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMaxTokens 设置单次调用的最大输出 token。
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithTemperature 设置采样温度。
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		if t > 0 {
			g.temperature = t
		}
	}
}

// WithSystemPrompt 设置系统提示词。
func WithSystemPrompt(s string) Option {
	return func(g *Generator) {
		if s != "" {
			g.system = s
		}
	}
}

// WithConcurrency 设置进程内同时进行的上游调用上限。
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// New 创建摘要生成器。使用完毕后调用 Close 释放协程池。
func New(completer llm.Completer, opts ...Option) (*Generator, error) {
	if completer == nil {
		return nil, fmt.Errorf("summarizer: completer 不能为空")
	}
	g := &Generator{
		completer:   completer,
		system:      DefaultSystemPrompt,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(g)
	}

	pool, err := ants.NewPool(g.concurrency)
	if err != nil {
		return nil, fmt.Errorf("summarizer: 创建协程池失败: %w", err)
	}
	g.pool = pool
	g.slots = semaphore.NewWeighted(int64(g.concurrency))
	// 上限小于三时一篇文章占满全部名额，三个调用在池内依次执行
	g.weight = int64(min(len(summary.Personas), g.concurrency))

	logger.Infof("[summarizer] 已初始化（并发上限 %d，时限 %s）", g.concurrency, g.timeout)
	return g, nil
}

// Close 释放协程池。
func (g *Generator) Close() {
	g.pool.Release()
}

// Validate 校验输入，长度按字符计。
func Validate(title, description string) error {
	if title == "" || description == "" {
		return fmt.Errorf("%w: title and description are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("%w: title longer than %d", ErrInvalidInput, MaxTitleLen)
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description longer than %d", ErrInvalidInput, MaxDescriptionLen)
	}
	return nil
}

// Generate 生成三视角摘要。任何失败都只返回 false，错误在这里记录后吸收。
func (g *Generator) Generate(ctx context.Context, title, description string) (summary.Summary, bool) {
	start := time.Now()
	s, err := g.GenerateE(ctx, title, description)
	metrics.SummaryGenerationDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.SummaryGenerations.WithLabelValues("ok").Inc()
		return s, true
	case errors.Is(err, ErrInvalidInput):
		metrics.SummaryGenerations.WithLabelValues("invalid").Inc()
		logger.Debugf("[summarizer] 跳过: %v", err)
	case errors.Is(err, ErrTimeout):
		metrics.SummaryGenerations.WithLabelValues("timeout").Inc()
		logger.Warnf("[summarizer] 生成超时（%s）: %q", g.timeout, truncate(title, 60))
	default:
		metrics.SummaryGenerations.WithLabelValues("failed").Inc()
		logger.Warnf("[summarizer] 生成失败: %v", err)
	}
	return summary.Summary{}, false
}

type personaResult struct {
	persona summary.Persona
	text    string
	err     error
}

// GenerateE 与 Generate 相同，但返回具体错误。
func (g *Generator) GenerateE(ctx context.Context, title, description string) (summary.Summary, error) {
	if err := Validate(title, description); err != nil {
		return summary.Summary{}, err
	}

	// 等待名额只受调用方 ctx 约束，名额在三个调用都退出后由 dispatch 归还
	if err := g.slots.Acquire(ctx, g.weight); err != nil {
		return summary.Summary{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results := make(chan personaResult, len(summary.Personas))
	// Submit 放到单独的协程里，等待方只看 ctx
	go g.dispatch(ctx, title, description, results)

	var out summary.Summary
	for range summary.Personas {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return summary.Summary{}, ErrTimeout
			}
			return summary.Summary{}, ctx.Err()
		case r := <-results:
			if r.err != nil {
				return summary.Summary{}, fmt.Errorf("persona %s: %w", r.persona, r.err)
			}
			out.Set(r.persona, r.text)
		}
	}
	return out, nil
}

func (g *Generator) dispatch(ctx context.Context, title, description string, results chan<- personaResult) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		g.slots.Release(g.weight)
	}()

	for _, p := range summary.Personas {
		persona := p
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results <- g.runPersona(ctx, persona, title, description)
		}
		if err := g.pool.Submit(task); err != nil {
			wg.Done()
			results <- personaResult{persona: persona, err: err}
		}
	}
}

func (g *Generator) runPersona(ctx context.Context, p summary.Persona, title, description string) (res personaResult) {
	res.persona = p
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()

	// 排队期间已超时则不再调用上游
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	text, err := g.completer.Complete(ctx, llm.CompletionRequest{
		System:      g.system,
		Prompt:      BuildPrompt(p, title, description),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		res.err = err
		return res
	}

	res.text = truncate(strings.TrimSpace(text), maxSummaryLen)
	if res.text == "" {
		res.err = errEmptyOutput
	}
	return res
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
