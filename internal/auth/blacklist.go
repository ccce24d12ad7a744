package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBlacklist 记录已吊销的令牌 (按 jti)。条目在令牌原本的过期时间之后失效。
type TokenBlacklist interface {
	Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// Revoke 把 claims 对应的令牌加入黑名单。
func Revoke(ctx context.Context, blacklist TokenBlacklist, claims *Claims) error {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return fmt.Errorf("token has no jti or expiry")
	}
	return blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time)
}

// MemoryBlacklist 是进程内的 TokenBlacklist，未配置 Redis 的单机部署使用。
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlacklist creates an empty in-memory blacklist.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryBlacklist) Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !originalTokenExpTime.After(now) {
		return nil
	}
	// 顺便清理已过期的条目
	for k, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, k)
		}
	}
	m.entries[jti] = originalTokenExpTime
	return nil
}

func (m *MemoryBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[jti]
	if !ok {
		return false, nil
	}
	if !exp.After(m.now()) {
		delete(m.entries, jti)
		return false, nil
	}
	return true, nil
}
