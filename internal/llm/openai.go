package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/iabetor/newslens/internal/metrics"
)

// OpenAIProvider 通过 OpenAI 兼容的 chat completions 接口生成文本。
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider 创建一个 OpenAI 兼容的提供者。
// SDK 自带重试关闭，降级由 MultiProvider 负责，时限由调用方 ctx 控制。
func NewOpenAIProvider(apiURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if apiURL != "" {
		opts = append(opts, option.WithBaseURL(apiURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Complete 实现 Completer。
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(p.model, "error").Inc()
		return "", fmt.Errorf("[llm] 请求失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(p.model, "empty").Inc()
		return "", fmt.Errorf("[llm] 响应中没有候选结果")
	}

	metrics.LLMRequests.WithLabelValues(p.model, "ok").Inc()
	return resp.Choices[0].Message.Content, nil
}
