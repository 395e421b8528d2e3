package ratelimit

import (
	"context"
	"sync"
	"time"

	xerrors "Feelan-Chain/internal/errors"
)

// Rule 描述一个固定窗口限流规则。
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter 抽象限流器。Allow 返回 false 表示该键在当前窗口内已超限。
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (bool, error)
	Close() error
}

// ErrRateLimited 是调用方可直接向上抛出的超限错误。
var ErrRateLimited = xerrors.New(xerrors.CodeRateLimited, "请求频率超出限制")

// MemoryLimiter 使用进程内固定窗口计数实现限流，适合单实例部署。
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryLimiter 创建内存限流器。
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window)}
}

// Allow 对键计数，窗口到期后重置。
func (l *MemoryLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(rule.Window)}
		l.dropExpired(now)
		return true, nil
	}
	if w.count >= rule.Limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// dropExpired 顺带清理过期窗口，避免键空间无限增长。
func (l *MemoryLimiter) dropExpired(now time.Time) {
	if len(l.windows) < 1024 {
		return
	}
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// Close 实现 Limiter 接口。
func (l *MemoryLimiter) Close() error { return nil }
