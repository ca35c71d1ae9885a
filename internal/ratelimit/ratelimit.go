// Package ratelimit 提供滑动窗口限流：进程内实现和基于 Redis 的分布式实现，
// 以及把限流套在 HTTP handler 外层的中间件。
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// UnknownIdentity 请求头里找不到客户端地址时使用的标识。
const UnknownIdentity = "unknown-ip"

// Result 一次限流判定的结果。
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time // 配额恢复的时间点
	// Degraded 为 true 表示后端不可用，本次按放行处理（fail-open），字段不可信。
	Degraded bool
}

// Limiter 按客户端标识判定是否放行。
type Limiter interface {
	Check(ctx context.Context, identity string) (Result, error)
}

// ClientIdentity 从请求头提取客户端标识。
// 优先 X-Forwarded-For 的第一个地址，其次 X-Real-IP。
func ClientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return UnknownIdentity
}
