// Package workerpool 有界协程池，用于对象元数据并发获取等扇出任务。
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed 协程池已关闭
var ErrPoolClosed = errors.New("worker pool closed")

// Job 池中执行的任务
type Job func()

// Stats 池运行统计
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

// Pool 固定数量 worker 消费有界队列
type Pool struct {
	workers int
	queue   chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	logger  *slog.Logger

	submitted atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// New 创建协程池
// workers: worker 数量，小于 1 时取 1
// queueSize: 队列容量，小于 0 时取 0
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers: workers,
		queue:   make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Debug("Worker pool started", "workers", workers, "queue_size", queueSize)
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			p.run(id, job)
		}
	}
}

// run 执行任务，捕获 panic
func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Job panic recovered", "worker_id", id, "panic", r)
		}
		p.completed.Add(1)
	}()
	job()
}

// Submit 提交任务，队列满时阻塞直到有空位、ctx 取消或池关闭
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- job:
		p.submitted.Add(1)
		return nil
	}
}

// TrySubmit 尝试提交任务，队列满了立即返回 false
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case p.queue <- job:
		p.submitted.Add(1)
		return true
	default:
		return false
	}
}

// Stats 当前统计
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

// Done 协程池关闭后关闭
func (p *Pool) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Shutdown 关闭协程池，等待正在执行的任务结束，队列中未开始的任务被丢弃
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
		if n := len(p.queue); n > 0 {
			p.logger.Warn("Worker pool dropped queued jobs", "count", n)
		}
		p.logger.Debug("Worker pool shutdown completed")
	})
}
