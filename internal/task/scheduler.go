package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.ripple/internal/workerpool"
)

// Scheduler 任务调度器：时钟协程推进时间轮，到期任务交给协程池执行
type Scheduler struct {
	wheel       *TimeWheel
	workerCount int
	pool        *workerpool.Pool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
	running     bool
	runningMu   sync.RWMutex
}

// NewScheduler 创建任务调度器
func NewScheduler(tick time.Duration, workerCount int) *Scheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Scheduler{
		wheel:       NewTimeWheel(tick, DefaultSlotCount),
		workerCount: workerCount,
		logger:      slog.Default(),
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return fmt.Errorf("调度器已经在运行中")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool = workerpool.New(s.workerCount, s.workerCount*4, s.logger)
	s.running = true

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Debug("任务调度器已启动", "tick", s.wheel.Tick(), "workers", s.workerCount)
	return nil
}

// tickLoop 时钟循环协程
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.wheel.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

// onTick 推进时间轮并提交到期任务
func (s *Scheduler) onTick() {
	tasks := s.wheel.Advance()
	if len(tasks) == 0 {
		return
	}

	for _, t := range tasks {
		t := t
		if err := s.pool.Submit(s.ctx, func() { s.execute(t) }); err != nil {
			s.logger.Warn("任务提交失败", "taskID", t.ID, "error", err)
		}
	}
}

func (s *Scheduler) execute(t *Task) {
	if err := t.Execute(s.ctx); err != nil {
		s.logger.Warn("任务执行失败", "taskID", t.ID, "target", t.Target, "error", err)
	}
}

// Stop 停止调度器，未到期任务丢弃
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.pool.Shutdown()

	s.logger.Debug("任务调度器已停止")
}

// AddTask 添加任务，同 ID 的待执行任务被替换
func (s *Scheduler) AddTask(task *Task) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return fmt.Errorf("调度器未运行")
	}
	if task == nil {
		return fmt.Errorf("任务不能为空")
	}
	if task.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}

	if s.wheel.AddTask(task) {
		s.logger.Debug("替换任务", "taskID", task.ID, "delay", task.Delay)
	}
	return nil
}

// RemoveTask 删除任务
func (s *Scheduler) RemoveTask(taskID string) error {
	if taskID == "" {
		return fmt.Errorf("任务ID不能为空")
	}
	if !s.wheel.RemoveTask(taskID) {
		return fmt.Errorf("任务不存在: %s", taskID)
	}
	return nil
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}
