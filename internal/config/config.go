package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 newslens 的顶层配置结构。
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Feeds     FeedsConfig     `yaml:"feeds"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// ModelConfig 单个 LLM 模型的连接信息。Models 按优先级排列，失败时依次降级。
type ModelConfig struct {
	Name   string `yaml:"name"`
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LLMConfig 大模型生成配置。
type LLMConfig struct {
	Models            []ModelConfig `yaml:"models"`
	SystemPrompt      string        `yaml:"system_prompt"`
	PersonaMaxTokens  int           `yaml:"persona_max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	MaxConcurrency    int           `yaml:"max_concurrency"`
	TimeoutSec        int           `yaml:"timeout_sec"` // 三个视角整体生成超时
	RequestTimeoutSec int           `yaml:"request_timeout_sec"`
	InsightMaxTokens  int           `yaml:"insight_max_tokens"`
	InsightTimeoutSec int           `yaml:"insight_timeout_sec"`
}

// Enabled 判断是否至少配置了一个可用模型。
func (c LLMConfig) Enabled() bool {
	for _, m := range c.Models {
		if m.APIKey != "" {
			return true
		}
	}
	return false
}

// CacheConfig 摘要缓存配置。
type CacheConfig struct {
	Backend          string `yaml:"backend"` // file 或 sqlite
	Path             string `yaml:"path"`
	DBPath           string `yaml:"db_path"`
	TTLHours         int    `yaml:"ttl_hours"`
	SweepIntervalMin int    `yaml:"sweep_interval_min"`
}

// TTL 返回缓存有效期。
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// RedisConfig 分布式限流使用的 Redis 连接。Addr 为空时使用进程内限流。
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// PolicyConfig 单个接口的限流策略。
type PolicyConfig struct {
	Limit     int    `yaml:"limit"`
	WindowSec int    `yaml:"window_sec"`
	Prefix    string `yaml:"prefix"`
	// Fallback 为 true 时超限返回降级内容（200），否则返回 429。
	Fallback bool `yaml:"fallback"`
}

// Window 返回滑动窗口时长。
func (p PolicyConfig) Window() time.Duration {
	return time.Duration(p.WindowSec) * time.Second
}

// RateLimitConfig 限流配置。
type RateLimitConfig struct {
	Redis            RedisConfig  `yaml:"redis"`
	RSS              PolicyConfig `yaml:"rss"`
	Insight          PolicyConfig `yaml:"insight"`
	SweepIntervalSec int          `yaml:"sweep_interval_sec"`
}

// FeedSource 订阅源。
type FeedSource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// FeedsConfig 订阅源抓取配置。
type FeedsConfig struct {
	Sources         []FeedSource `yaml:"sources"`
	ItemsPerFeed    int          `yaml:"items_per_feed"`
	FetchTimeoutSec int          `yaml:"fetch_timeout_sec"`
	CacheTTLMin     int          `yaml:"cache_ttl_min"` // 0 表示不缓存解析结果
}

// DefaultSources 未配置订阅源时使用的默认列表。
var DefaultSources = []FeedSource{
	{Name: "Smashing Magazine", URL: "https://www.smashingmagazine.com/feed/", Category: "design"},
	{Name: "A List Apart", URL: "https://alistapart.com/main/feed/", Category: "design"},
	{Name: "CSS-Tricks", URL: "https://css-tricks.com/feed/", Category: "design"},
	{Name: "MIT AI News", URL: "https://news.mit.edu/topic/mitartificial-intelligence2-rss.xml", Category: "ai"},
	{Name: "Hugging Face Blog", URL: "https://huggingface.co/blog/feed.xml", Category: "ai"},
	{Name: "DeepMind Blog", URL: "https://deepmind.google/blog/rss.xml", Category: "ai"},
	{Name: "TechCrunch", URL: "https://techcrunch.com/feed/", Category: "tech"},
	{Name: "The Verge", URL: "https://www.theverge.com/rss/index.xml", Category: "tech"},
	{Name: "Wired", URL: "https://www.wired.com/feed/rss", Category: "tech"},
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// Default 返回只包含默认值的配置，用于没有配置文件的场景。
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	cfg.DataDir = expandHome(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./.newslens-data"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutSec == 0 {
		cfg.Server.ReadTimeoutSec = 10
	}
	if cfg.Server.WriteTimeoutSec == 0 {
		// 聚合接口需要等待所有订阅源和摘要生成
		cfg.Server.WriteTimeoutSec = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = "You are a professional summarizer. Generate concise, one-sentence summaries. Be direct and insightful."
	}
	if cfg.LLM.PersonaMaxTokens == 0 {
		cfg.LLM.PersonaMaxTokens = 100
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxConcurrency == 0 {
		cfg.LLM.MaxConcurrency = 8
	}
	if cfg.LLM.TimeoutSec == 0 {
		cfg.LLM.TimeoutSec = 8
	}
	if cfg.LLM.RequestTimeoutSec == 0 {
		cfg.LLM.RequestTimeoutSec = 30
	}
	if cfg.LLM.InsightMaxTokens == 0 {
		cfg.LLM.InsightMaxTokens = 200
	}
	if cfg.LLM.InsightTimeoutSec == 0 {
		cfg.LLM.InsightTimeoutSec = 15
	}
	for i := range cfg.LLM.Models {
		// 环境变量展开后两端常带空白
		cfg.LLM.Models[i].APIKey = strings.TrimSpace(cfg.LLM.Models[i].APIKey)
		if cfg.LLM.Models[i].Name == "" {
			cfg.LLM.Models[i].Name = cfg.LLM.Models[i].Model
		}
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "file"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = ".summaryCache.json"
	}
	if cfg.Cache.DBPath == "" {
		cfg.Cache.DBPath = cfg.DataDir + "/newslens.db"
	}
	cfg.Cache.DBPath = expandHome(cfg.Cache.DBPath)
	if cfg.Cache.TTLHours == 0 {
		cfg.Cache.TTLHours = 7 * 24
	}
	if cfg.Cache.SweepIntervalMin == 0 {
		cfg.Cache.SweepIntervalMin = 60
	}

	if cfg.RateLimit.Redis.TimeoutMs == 0 {
		cfg.RateLimit.Redis.TimeoutMs = 500
	}
	policyDefaults(&cfg.RateLimit.RSS, 10, "rl:rss")
	policyDefaults(&cfg.RateLimit.Insight, 5, "rl:insight")
	if cfg.RateLimit.SweepIntervalSec == 0 {
		cfg.RateLimit.SweepIntervalSec = 300
	}

	if len(cfg.Feeds.Sources) == 0 {
		cfg.Feeds.Sources = append([]FeedSource(nil), DefaultSources...)
	}
	if cfg.Feeds.ItemsPerFeed == 0 {
		cfg.Feeds.ItemsPerFeed = 10
	}
	if cfg.Feeds.FetchTimeoutSec == 0 {
		cfg.Feeds.FetchTimeoutSec = 10
	}
}

func policyDefaults(p *PolicyConfig, limit int, prefix string) {
	if p.Limit == 0 {
		p.Limit = limit
	}
	if p.WindowSec == 0 {
		p.WindowSec = 60
	}
	if p.Prefix == "" {
		p.Prefix = prefix
	}
}

// expandHome 展开 ~/ 前缀。Go 不会自动处理 ~。
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return home + p[1:]
}
