package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iabetor/newslens/internal/database"
	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/metrics"
	"github.com/iabetor/newslens/internal/summary"
)

const sqliteBackend = "sqlite"

// SQLiteStore 基于 SQLite 的缓存，每个键单独读写，不需要整体加载。
type SQLiteStore struct {
	db   *database.DB
	opts options
}

// NewSQLiteStore 创建 SQLite 缓存。db 需已完成 Migrate。
func NewSQLiteStore(db *database.DB, opts ...Option) *SQLiteStore {
	return &SQLiteStore{db: db, opts: buildOptions(opts)}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (summary.Summary, bool) {
	var (
		sum       summary.Summary
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dev, design, product, created_at FROM summary_cache WHERE cache_key = ?`, key,
	).Scan(&sum.Dev, &sum.Design, &sum.Product, &createdAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warnf("[cache] 查询摘要缓存失败，按未命中处理: %v", err)
		}
		metrics.CacheLookups.WithLabelValues(sqliteBackend, "miss").Inc()
		return summary.Summary{}, false
	}

	if expired(time.UnixMilli(createdAt), s.opts.now(), s.opts.ttl) {
		// 只删除仍是这条旧记录的行，避免误删其他进程刚写入的新值
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM summary_cache WHERE cache_key = ? AND created_at = ?`, key, createdAt,
		); err != nil {
			logger.Warnf("[cache] 删除过期摘要失败: %v", err)
		} else {
			metrics.CacheEvictions.WithLabelValues(sqliteBackend).Inc()
		}
		metrics.CacheLookups.WithLabelValues(sqliteBackend, "expired").Inc()
		return summary.Summary{}, false
	}

	metrics.CacheLookups.WithLabelValues(sqliteBackend, "hit").Inc()
	return sum, true
}

func (s *SQLiteStore) Put(ctx context.Context, key string, sum summary.Summary) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summary_cache (cache_key, dev, design, product, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			dev = excluded.dev,
			design = excluded.design,
			product = excluded.product,
			created_at = excluded.created_at`,
		key, sum.Dev, sum.Design, sum.Product, s.opts.now().UnixMilli(),
	)
	if err != nil {
		logger.Errorf("[cache] 写入摘要缓存失败，跳过: %v", err)
	}
}

func (s *SQLiteStore) SweepExpired(ctx context.Context) int {
	cutoff := s.opts.now().Add(-s.opts.ttl).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM summary_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		logger.Errorf("[cache] 清理过期摘要失败: %v", err)
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	if n > 0 {
		metrics.CacheEvictions.WithLabelValues(sqliteBackend).Add(float64(n))
	}
	return int(n)
}
