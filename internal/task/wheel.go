package task

import (
	"sync"
	"time"
)

// DefaultSlotCount 默认槽位数量
const DefaultSlotCount = 60

// TimeWheel 时间轮，记录任务所在槽位以支持按 ID 删除
type TimeWheel struct {
	mu          sync.Mutex
	slots       []*Slot
	index       map[string]int // taskID -> 槽位
	currentSlot int
	tick        time.Duration
}

// NewTimeWheel 创建时间轮
func NewTimeWheel(tick time.Duration, slotCount int) *TimeWheel {
	if tick <= 0 {
		tick = time.Second
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}

	tw := &TimeWheel{
		slots: make([]*Slot, slotCount),
		index: make(map[string]int),
		tick:  tick,
	}
	for i := range tw.slots {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// Tick 每个槽位代表的时长
func (tw *TimeWheel) Tick() time.Duration {
	return tw.tick
}

// ticksFor 延迟折算为 tick 数，至少 1
func (tw *TimeWheel) ticksFor(delay time.Duration) int {
	n := int((delay + tw.tick - 1) / tw.tick)
	if n < 1 {
		n = 1
	}
	return n
}

// AddTask 添加任务，已存在同 ID 任务时先移除，返回是否替换
func (tw *TimeWheel) AddTask(task *Task) bool {
	n := len(tw.slots)
	ticks := tw.ticksFor(task.Delay)

	tw.mu.Lock()
	defer tw.mu.Unlock()

	replaced := tw.removeLocked(task.ID)
	target := (tw.currentSlot + ticks) % n
	tw.slots[target].AddTask(task, (ticks-1)/n)
	tw.index[task.ID] = target
	return replaced
}

// RemoveTask 按 ID 删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.removeLocked(taskID)
}

func (tw *TimeWheel) removeLocked(taskID string) bool {
	slot, ok := tw.index[taskID]
	if !ok {
		return false
	}
	delete(tw.index, taskID)
	return tw.slots[slot].RemoveTask(taskID)
}

// Advance 推进一个槽位，返回到期任务 (由调度器调用)
func (tw *TimeWheel) Advance() []*Task {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.currentSlot = (tw.currentSlot + 1) % len(tw.slots)
	due := tw.slots[tw.currentSlot].Expire()
	for _, t := range due {
		delete(tw.index, t.ID)
	}
	return due
}

// TotalTaskCount 所有槽位的任务总数
func (tw *TimeWheel) TotalTaskCount() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return len(tw.index)
}
