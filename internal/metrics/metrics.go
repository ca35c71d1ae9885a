package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups 摘要缓存查询结果：hit / miss / expired。
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newslens_summary_cache_lookups_total",
			Help: "Summary cache lookups by result",
		},
		[]string{"backend", "result"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newslens_summary_cache_evictions_total",
			Help: "Expired summary cache entries removed",
		},
		[]string{"backend"},
	)

	// SummaryGenerations 三视角摘要生成结果：ok / invalid / timeout / failed。
	SummaryGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newslens_summary_generations_total",
			Help: "Persona summary generations by outcome",
		},
		[]string{"outcome"},
	)

	SummaryGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newslens_summary_generation_duration_seconds",
			Help:    "Wall time of a three-persona summary generation",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms ~ 12.8s
		},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newslens_llm_requests_total",
			Help: "Upstream text generation requests",
		},
		[]string{"model", "status"},
	)

	// RateLimitDecisions 限流判定：allowed / limited / fallback / fail_open。
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newslens_ratelimit_decisions_total",
			Help: "Rate limit decisions by policy",
		},
		[]string{"policy", "decision"},
	)

	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newslens_feed_fetches_total",
			Help: "Feed fetches by source and status",
		},
		[]string{"source", "status"},
	)

	InsightRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newslens_insight_requests_total",
			Help: "Insight generations by perspective and result",
		},
		[]string{"perspective", "result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newslens_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)
)
