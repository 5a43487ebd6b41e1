package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestSlotAddAndRemove 测试槽位添加和删除
func TestSlotAddAndRemove(t *testing.T) {
	slot := NewSlot()

	slot.AddTask(NewTask("task-1", "chat-1", time.Second, nil), 0)
	slot.AddTask(NewTask("task-2", "chat-2", time.Second, nil), 0)

	if slot.Count() != 2 {
		t.Errorf("期望任务数 = 2, 实际 = %d", slot.Count())
	}

	if !slot.RemoveTask("task-1") {
		t.Error("期望删除成功")
	}
	if slot.Count() != 1 {
		t.Errorf("期望任务数 = 1, 实际 = %d", slot.Count())
	}
	if slot.RemoveTask("task-not-exist") {
		t.Error("期望删除失败")
	}
}

// TestSlotExpireRounds 测试圈数耗尽后才到期
func TestSlotExpireRounds(t *testing.T) {
	slot := NewSlot()
	slot.AddTask(NewTask("now", "c", 0, nil), 0)
	slot.AddTask(NewTask("later", "c", 0, nil), 1)

	due := slot.Expire()
	if len(due) != 1 || due[0].ID != "now" {
		t.Fatalf("期望首次到期 [now], 实际 = %v", due)
	}
	due = slot.Expire()
	if len(due) != 1 || due[0].ID != "later" {
		t.Fatalf("期望第二次到期 [later], 实际 = %v", due)
	}
	if slot.Count() != 0 {
		t.Errorf("期望槽位为空, 实际 = %d", slot.Count())
	}
}

// TestTimeWheelAdvance 测试延迟按 tick 向上取整
func TestTimeWheelAdvance(t *testing.T) {
	tw := NewTimeWheel(10*time.Millisecond, 4)

	tw.AddTask(NewTask("a", "c", 25*time.Millisecond, nil)) // 3 ticks
	tw.AddTask(NewTask("b", "c", 0, nil))                    // 至少 1 tick
	tw.AddTask(NewTask("c", "c", 60*time.Millisecond, nil)) // 6 ticks，跨一圈

	fired := map[int][]string{}
	for i := 1; i <= 6; i++ {
		for _, task := range tw.Advance() {
			fired[i] = append(fired[i], task.ID)
		}
	}

	if len(fired[1]) != 1 || fired[1][0] != "b" {
		t.Errorf("期望第 1 tick 触发 b, 实际 = %v", fired[1])
	}
	if len(fired[3]) != 1 || fired[3][0] != "a" {
		t.Errorf("期望第 3 tick 触发 a, 实际 = %v", fired[3])
	}
	if len(fired[2]) != 0 {
		t.Errorf("期望第 2 tick 无任务, 实际 = %v", fired[2])
	}
	if len(fired[6]) != 1 || fired[6][0] != "c" {
		t.Errorf("期望第 6 tick 触发 c, 实际 = %v", fired[6])
	}
	if tw.TotalTaskCount() != 0 {
		t.Errorf("期望任务总数 = 0, 实际 = %d", tw.TotalTaskCount())
	}
}

// TestTimeWheelRemoveAfterAdvance 已推进若干槽位后仍能按 ID 删除
func TestTimeWheelRemoveAfterAdvance(t *testing.T) {
	tw := NewTimeWheel(10*time.Millisecond, 8)
	tw.AddTask(NewTask("x", "c", 50*time.Millisecond, nil))

	tw.Advance()
	tw.Advance()

	if !tw.RemoveTask("x") {
		t.Fatal("期望删除成功")
	}
	for i := 0; i < 8; i++ {
		if due := tw.Advance(); len(due) != 0 {
			t.Fatalf("期望任务已删除, 实际触发 = %v", due)
		}
	}
}

// TestTimeWheelReplace 同 ID 再次添加替换旧任务
func TestTimeWheelReplace(t *testing.T) {
	tw := NewTimeWheel(10*time.Millisecond, 8)

	if tw.AddTask(NewTask("x", "c", 10*time.Millisecond, nil)) {
		t.Error("首次添加不应是替换")
	}
	if !tw.AddTask(NewTask("x", "c", 30*time.Millisecond, nil)) {
		t.Error("期望替换旧任务")
	}
	if tw.TotalTaskCount() != 1 {
		t.Errorf("期望任务总数 = 1, 实际 = %d", tw.TotalTaskCount())
	}

	if due := tw.Advance(); len(due) != 0 {
		t.Errorf("旧任务不应触发, 实际 = %v", due)
	}
	tw.Advance()
	if due := tw.Advance(); len(due) != 1 {
		t.Errorf("期望第 3 tick 触发新任务, 实际 = %v", due)
	}
}

// TestSchedulerStartStop 测试调度器启动和停止
func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if !s.IsRunning() {
		t.Error("期望调度器运行中")
	}
	if err := s.Start(); err == nil {
		t.Error("期望重复启动失败")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("期望调度器已停止")
	}
	if err := s.AddTask(NewTask("x", "c", 0, nil)); err == nil {
		t.Error("期望停止后添加任务失败")
	}
}

// TestSchedulerTaskExecution 测试任务执行
func TestSchedulerTaskExecution(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 2)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	done := make(chan string, 1)
	fn := func(ctx context.Context, target string) error {
		done <- target
		return nil
	}
	if err := s.AddTask(NewTask("task-1", "chat-1", 20*time.Millisecond, fn)); err != nil {
		t.Fatalf("添加任务失败: %v", err)
	}

	select {
	case target := <-done:
		if target != "chat-1" {
			t.Errorf("期望 target = chat-1, 实际 = %s", target)
		}
	case <-time.After(time.Second):
		t.Fatal("任务未执行")
	}
}

// TestSchedulerDebounce 连续添加同 ID 任务只执行最后一次
func TestSchedulerDebounce(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 2)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	var count atomic.Int32
	var last atomic.Value
	for _, target := range []string{"m1", "m2", "m3"} {
		fn := func(ctx context.Context, target string) error {
			count.Add(1)
			last.Store(target)
			return nil
		}
		if err := s.AddTask(NewTask("debounce", target, 50*time.Millisecond, fn)); err != nil {
			t.Fatalf("添加任务失败: %v", err)
		}
	}

	time.Sleep(200 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("期望执行次数 = 1, 实际 = %d", count.Load())
	}
	if got, _ := last.Load().(string); got != "m3" {
		t.Errorf("期望执行最后一次 m3, 实际 = %s", got)
	}
}

// TestSchedulerRemoveTask 测试删除任务
func TestSchedulerRemoveTask(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 1)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	var executed atomic.Bool
	fn := func(ctx context.Context, target string) error {
		executed.Store(true)
		return nil
	}
	if err := s.AddTask(NewTask("task-1", "c", 80*time.Millisecond, fn)); err != nil {
		t.Fatalf("添加任务失败: %v", err)
	}
	if err := s.RemoveTask("task-1"); err != nil {
		t.Fatalf("删除任务失败: %v", err)
	}
	if err := s.RemoveTask("task-1"); err == nil {
		t.Error("期望重复删除失败")
	}

	time.Sleep(150 * time.Millisecond)
	if executed.Load() {
		t.Error("已删除的任务不应执行")
	}
}

// TestSchedulerConcurrent 测试并发添加
func TestSchedulerConcurrent(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 4)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	const n = 50
	var wg sync.WaitGroup
	var executed sync.WaitGroup
	executed.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "task-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
			fn := func(ctx context.Context, target string) error {
				executed.Done()
				return nil
			}
			if err := s.AddTask(NewTask(id, "c", 20*time.Millisecond, fn)); err != nil {
				t.Errorf("添加任务失败: %v", err)
			}
		}(i)
	}
	wg.Wait()

	finished := make(chan struct{})
	go func() {
		executed.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("并发任务未全部执行")
	}
}
