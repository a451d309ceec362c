// Package keylock 提供按自然主键加锁的所有权令牌.
// 不同键互不阻塞, 同一键串行; 等待超过上限时快速失败.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"Cornucopia/pkg/model"
)

// Locker 按键加锁
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	wait    time.Duration
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// New 创建锁管理器, wait 为获取单个键的最长等待时间, 0 表示只尝试一次
func New(wait time.Duration) *Locker {
	return &Locker{
		entries: make(map[string]*entry),
		wait:    wait,
	}
}

// Acquire 获取键的所有权, 返回的 release 可重复调用
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)

	var acquired bool
	if l.wait <= 0 {
		acquired = e.sem.TryAcquire(1)
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, l.wait)
		acquired = e.sem.Acquire(waitCtx, 1) == nil
		cancel()
	}
	if !acquired {
		l.unref(key, e)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("等待键 %s 被取消: %w", key, ctx.Err())
		}
		return nil, fmt.Errorf("键 %s 正在被其他写入者占用: %w", key, model.ErrConcurrencyConflict)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}, nil
}

// Len 当前被引用的键数量
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
