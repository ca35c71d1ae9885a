package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/metrics"
)

// Options 配置限流中间件。
type Options struct {
	// Policy 用于日志和指标的策略名。
	Policy string
	// Fallback 非空时超限不返回 429，而是以 200 返回此内容并附加 rateLimited=true。
	Fallback map[string]any
	// Now 替换时间源，用于计算 Retry-After。
	Now func() time.Time
}

// Middleware 对 next 施加限流。
//
// 放行时在响应头写入 X-RateLimit-Limit / Remaining / Reset（毫秒时间戳）。
// 限流器出错或处于降级状态时直接放行，不写限流头。
func Middleware(l Limiter, opts Options) func(http.Handler) http.Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ClientIdentity(r)

			res, err := l.Check(r.Context(), identity)
			if err != nil {
				logger.Errorf("[ratelimit] 限流检查出错，放行请求 (policy=%s): %v", opts.Policy, err)
				metrics.RateLimitDecisions.WithLabelValues(opts.Policy, "fail_open").Inc()
				next.ServeHTTP(w, r)
				return
			}
			if res.Degraded {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.UnixMilli(), 10))

			if res.Allowed {
				metrics.RateLimitDecisions.WithLabelValues(opts.Policy, "allowed").Inc()
				next.ServeHTTP(w, r)
				return
			}

			if opts.Fallback != nil {
				metrics.RateLimitDecisions.WithLabelValues(opts.Policy, "fallback").Inc()
				body := make(map[string]any, len(opts.Fallback)+1)
				for k, v := range opts.Fallback {
					body[k] = v
				}
				body["rateLimited"] = true
				writeJSON(w, http.StatusOK, body)
				return
			}

			metrics.RateLimitDecisions.WithLabelValues(opts.Policy, "limited").Inc()
			retryAfter := RetryAfter(res.Reset, now())
			logger.Debugf("[ratelimit] 客户端 %s 超出限流 (policy=%s)，%d 秒后重试", identity, opts.Policy, retryAfter)

			h.Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      "Too many requests",
				"message":    fmt.Sprintf("Please wait %d seconds before trying again.", retryAfter),
				"retryAfter": retryAfter,
			})
		})
	}
}

// RetryAfter 返回距离 reset 的秒数，向上取整。
func RetryAfter(reset, now time.Time) int {
	ms := reset.Sub(now).Milliseconds()
	return int(math.Ceil(float64(ms) / 1000))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[ratelimit] 写入响应失败: %v", err)
	}
}
