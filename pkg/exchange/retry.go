package exchange

import (
	"context"
	"time"
)

const (
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 10 * time.Second
)

// Backoff 第attempt次重试前的等待时间，指数退避并封顶
func Backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Retry 对可重试错误做有界重试，不可重试错误立即返回
func Retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !Retryable(err) {
			return err
		}
		select {
		case <-time.After(Backoff(i)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
