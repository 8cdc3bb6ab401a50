package utils

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Pool 进程级 API 调用池：限制同时在途的请求数，并可选按 QPS 限流。
// Do 不可嵌套调用，否则小容量池会死锁。
type Pool struct {
	size    int
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewPool size<=0 时按 1 处理；qps<=0 表示不限流
func NewPool(size int, qps float64) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{size: size, sem: semaphore.NewWeighted(int64(size))}
	if qps > 0 {
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
	return p
}

func (p *Pool) Size() int {
	return p.size
}

// Do 占用一个槽位执行 fn
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return fn(ctx)
}

// Each 对 [0,n) 并发执行 fn，每次调用经过 Do；单个失败不取消其余任务。
// 返回全部错误（multierr），其中包括因取消或限流等待超时而未执行的任务
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(p.size)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := p.Do(ctx, func(ctx context.Context) error { return fn(ctx, i) }); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
