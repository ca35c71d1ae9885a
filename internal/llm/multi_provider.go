package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/iabetor/newslens/internal/logger"
)

// ModelConfig 描述一个 LLM 模型的连接信息。
type ModelConfig struct {
	Name   string // 显示名称
	APIURL string
	APIKey string
	Model  string
}

type providerEntry struct {
	name     string
	provider Completer
}

// MultiProvider 实现多 LLM 自动降级。
// 按优先级列表顺序尝试，当前模型请求失败时自动切换到下一个。
type MultiProvider struct {
	entries []providerEntry
	current int // 当前活跃索引
	mu      sync.RWMutex
}

// NewMultiProvider 根据模型配置列表创建 MultiProvider，跳过没有 API Key 的模型。
func NewMultiProvider(configs []ModelConfig, requestTimeout time.Duration) (*MultiProvider, error) {
	entries := make([]providerEntry, 0, len(configs))
	for _, cfg := range configs {
		if cfg.APIKey == "" {
			logger.Warnf("[llm] 模型 [%s] 未配置 API Key，已跳过", cfg.Name)
			continue
		}
		entries = append(entries, providerEntry{
			name:     cfg.Name,
			provider: NewOpenAIProvider(cfg.APIURL, cfg.APIKey, cfg.Model, requestTimeout),
		})
	}
	if len(entries) == 0 {
		return nil, ErrNoModels
	}

	logger.Infof("[llm] 多模型已初始化，共 %d 个模型：%s", len(entries), formatModelNames(entries))
	return &MultiProvider{entries: entries}, nil
}

// CurrentName 返回当前活跃模型的名称。
func (m *MultiProvider) CurrentName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[m.current].name
}

// Complete 实现 Completer。
// 从当前活跃模型开始尝试，可降级的错误切换到下一个，直到所有模型都尝试过。
func (m *MultiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.RLock()
	startIdx := m.current
	total := len(m.entries)
	m.mu.RUnlock()

	var lastErr error
	for i := 0; i < total; i++ {
		idx := (startIdx + i) % total
		entry := m.entries[idx]

		text, err := entry.provider.Complete(ctx, req)
		if err == nil {
			if idx != startIdx {
				m.mu.Lock()
				m.current = idx
				m.mu.Unlock()
				logger.Infof("[llm] 切换到模型 [%s]", entry.name)
			}
			return text, nil
		}

		lastErr = err
		logger.Warnf("[llm] 模型 [%s] 请求失败: %v", entry.name, err)

		// 调用方已取消或超时，换模型也来不及
		if ctx.Err() != nil {
			return "", err
		}
		if !shouldFallback(err) {
			return "", err
		}

		m.mu.Lock()
		m.current = (idx + 1) % total
		m.mu.Unlock()
	}

	return "", fmt.Errorf("所有 LLM 模型均不可用，最后错误: %w", lastErr)
}

// shouldFallback 判断错误是否应该触发降级到下一个模型（额度耗尽、限流、服务不可用、超时）。
func shouldFallback(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusPaymentRequired,
			code == http.StatusTooManyRequests,
			code == http.StatusUnauthorized,
			code >= 500:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	fallbackKeywords := []string{
		"insufficient", "balance", "quota",
		"rate limit", "too many requests",
		"timeout", "connection refused", "no such host",
	}
	for _, kw := range fallbackKeywords {
		if strings.Contains(errMsg, kw) {
			return true
		}
	}
	return false
}

func formatModelNames(entries []providerEntry) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return strings.Join(names, " → ")
}
