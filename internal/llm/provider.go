// Package llm 封装文本生成能力：OpenAI 兼容接口及多模型自动降级。
package llm

import (
	"context"
	"errors"
)

// ErrNoModels 没有可用的模型配置。
var ErrNoModels = errors.New("至少需要一个 LLM 模型配置")

// CompletionRequest 一次非流式生成请求。
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer 文本生成能力。调用可能失败或超时，调用方通过 ctx 控制时限。
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
