package evaluator

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RateLimiter 令牌桶限流器，约束对AI服务的请求速率
// 评估队列本身是串行的，但上传走提交路径，两边共享同一个配额
type RateLimiter struct {
	rate       float64 // 每秒生成的令牌数
	capacity   float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter 按每分钟请求数创建限流器
// capacity<=0 时取QPM的一半（至少1），允许小幅突发
func NewRateLimiter(qpm int, capacity int) *RateLimiter {
	if capacity <= 0 {
		capacity = qpm / 2
		if capacity <= 0 {
			capacity = 1
		}
	}

	return &RateLimiter{
		rate:       float64(qpm) / 60.0,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// refill 根据经过的时间填充令牌，调用方必须持有锁
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
}

// Allow 非阻塞地尝试消耗一个令牌
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// Wait 阻塞直到拿到令牌或上下文取消
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// IsRetryable 判断AI服务的错误是否值得重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	for _, marker := range []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"EOF",
		"connection refused",
		"429",
		"rate limit",
		"no such host",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
