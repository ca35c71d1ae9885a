package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/metrics"
	"github.com/iabetor/newslens/internal/summary"
)

const fileBackend = "file"

// entry 缓存文件中的一条记录，timestamp 为毫秒时间戳。
type entry struct {
	Summary   summary.Summary `json:"summary"`
	Timestamp int64           `json:"timestamp"`
}

// FileStore 基于单个 JSON 文件的缓存。
//
// 每次操作前整体重新加载文件，写操作后整体写回，以容忍多个进程共用同一文件。
// 进程间没有锁，并发写入以最后一次为准。
type FileStore struct {
	mu   sync.Mutex // 只保护本进程内的加载-修改-写回
	path string
	opts options
}

// NewFileStore 创建文件缓存。文件不存在时视为空缓存，首次写入时创建。
func NewFileStore(path string, opts ...Option) *FileStore {
	return &FileStore{path: path, opts: buildOptions(opts)}
}

// Path 返回缓存文件路径。
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key string) (summary.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	e, ok := data[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues(fileBackend, "miss").Inc()
		return summary.Summary{}, false
	}

	if expired(time.UnixMilli(e.Timestamp), s.opts.now(), s.opts.ttl) {
		delete(data, key)
		s.save(data)
		metrics.CacheLookups.WithLabelValues(fileBackend, "expired").Inc()
		metrics.CacheEvictions.WithLabelValues(fileBackend).Inc()
		return summary.Summary{}, false
	}

	metrics.CacheLookups.WithLabelValues(fileBackend, "hit").Inc()
	return e.Summary, true
}

func (s *FileStore) Put(_ context.Context, key string, sum summary.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	data[key] = entry{Summary: sum, Timestamp: s.opts.now().UnixMilli()}
	s.save(data)
}

func (s *FileStore) SweepExpired(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	now := s.opts.now()
	removed := 0
	for k, e := range data {
		if expired(time.UnixMilli(e.Timestamp), now, s.opts.ttl) {
			delete(data, k)
			removed++
		}
	}
	if removed > 0 {
		s.save(data)
		metrics.CacheEvictions.WithLabelValues(fileBackend).Add(float64(removed))
	}
	return removed
}

// load 读取整个缓存文件。任何错误都返回空缓存。
func (s *FileStore) load() map[string]entry {
	data := make(map[string]entry)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("[cache] 读取缓存文件失败，按空缓存处理: %v", err)
		}
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Warnf("[cache] 解析缓存文件失败，按空缓存处理: %v", err)
		return make(map[string]entry)
	}
	return data
}

// save 整体写回缓存文件。先写临时文件再重命名，避免其他进程读到半截内容。
func (s *FileStore) save(data map[string]entry) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		logger.Errorf("[cache] 序列化缓存失败: %v", err)
		return
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Errorf("[cache] 创建缓存目录失败，跳过写入: %v", err)
			return
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		logger.Errorf("[cache] 创建临时文件失败，跳过写入: %v", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		logger.Errorf("[cache] 写入缓存失败: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		logger.Errorf("[cache] 写入缓存失败: %v", err)
		return
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		logger.Errorf("[cache] 替换缓存文件失败: %v", err)
	}
}
