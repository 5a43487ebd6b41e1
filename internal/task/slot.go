package task

// entry 槽位中的任务及剩余圈数
type entry struct {
	task   *Task
	rounds int
}

// Slot 时间轮槽位，由时间轮加锁访问
type Slot struct {
	entries map[string]*entry
}

// NewSlot 创建槽位
func NewSlot() *Slot {
	return &Slot{entries: make(map[string]*entry)}
}

// AddTask 添加任务
func (s *Slot) AddTask(task *Task, rounds int) {
	s.entries[task.ID] = &entry{task: task, rounds: rounds}
}

// RemoveTask 删除任务
func (s *Slot) RemoveTask(taskID string) bool {
	if _, ok := s.entries[taskID]; !ok {
		return false
	}
	delete(s.entries, taskID)
	return true
}

// Expire 取出圈数已耗尽的任务，其余任务圈数减一
func (s *Slot) Expire() []*Task {
	var due []*Task
	for id, e := range s.entries {
		if e.rounds > 0 {
			e.rounds--
			continue
		}
		due = append(due, e.task)
		delete(s.entries, id)
	}
	return due
}

// Count 任务数量
func (s *Slot) Count() int {
	return len(s.entries)
}
