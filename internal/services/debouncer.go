// internal/services/debouncer.go
package services

import (
	"sync"
	"time"
)

// Scheduler 延迟执行动作，返回取消函数。取消函数返回 false 表示动作已经开始或已取消
type Scheduler interface {
	Schedule(delay time.Duration, action func()) (cancel func() bool)
}

type timerScheduler struct{}

func (timerScheduler) Schedule(delay time.Duration, action func()) func() bool {
	return time.AfterFunc(delay, action).Stop
}

// TimerScheduler 基于 time.AfterFunc 的调度器
var TimerScheduler Scheduler = timerScheduler{}

// Debouncer 在安静期结束后执行最后一次提交的动作，被取代的动作永远不会执行
type Debouncer struct {
	mu        sync.Mutex
	scheduler Scheduler
	delay     time.Duration
	cancel    func() bool
	pending   func()
	seq       uint64
	stopped   bool
}

// NewDebouncer 创建防抖器，scheduler 为 nil 时使用 TimerScheduler
func NewDebouncer(delay time.Duration, scheduler Scheduler) *Debouncer {
	if scheduler == nil {
		scheduler = TimerScheduler
	}
	return &Debouncer{scheduler: scheduler, delay: delay}
}

// Trigger 取消尚未执行的动作，并为 action 开启新的等待窗口
func (d *Debouncer) Trigger(action func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}

	d.seq++
	seq := d.seq
	d.pending = action
	d.cancel = d.scheduler.Schedule(d.delay, func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	// 定时器已触发但动作在此期间被取代
	if seq != d.seq || d.pending == nil {
		d.mu.Unlock()
		return
	}
	action := d.pending
	d.pending = nil
	d.cancel = nil
	d.mu.Unlock()

	action()
}

// Flush 立即执行等待中的动作。没有等待中的动作时返回 false
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	action := d.take()
	d.mu.Unlock()

	if action == nil {
		return false
	}
	action()
	return true
}

// Pending 是否有等待执行的动作
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop 丢弃等待中的动作，之后的 Trigger 不再生效
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.take()
	d.stopped = true
}

func (d *Debouncer) take() func() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.seq++
	action := d.pending
	d.pending = nil
	return action
}
