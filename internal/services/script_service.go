// internal/services/script_service.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/storage"
	"github.com/Corphon/ScriptVoice/internal/utils"
)

// DefaultDebounceInterval 编辑停止后多久提交解析和保存
const DefaultDebounceInterval = 500 * time.Millisecond

// ScriptService 维护当前剧本文本。每次编辑都会重新开始防抖窗口，
// 窗口结束时依次解析剧本（替换说话人列表）并保存原始文本
type ScriptService struct {
	store     storage.ScriptStore
	registry  *SpeakerRegistry
	debouncer *Debouncer

	mu        sync.RWMutex
	text      string
	lastSaved time.Time
}

// NewScriptService 创建剧本服务，scheduler 为 nil 时使用真实定时器
func NewScriptService(store storage.ScriptStore, registry *SpeakerRegistry, interval time.Duration, scheduler Scheduler) *ScriptService {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	return &ScriptService{
		store:     store,
		registry:  registry,
		debouncer: NewDebouncer(interval, scheduler),
	}
}

// Load 启动时读取一次已保存的剧本并立即解析
func (s *ScriptService) Load(ctx context.Context) ([]models.Speaker, error) {
	text, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.text = text
	s.mu.Unlock()

	speakers := s.registry.ApplyScript(text)
	utils.GetLogger().Info("已加载剧本", map[string]interface{}{
		"length":   len(text),
		"speakers": len(speakers),
	})
	return speakers, nil
}

// UpdateScript 记录编辑后的文本并重新开始防抖窗口
func (s *ScriptService) UpdateScript(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()

	s.debouncer.Trigger(s.commit)
}

// Text 当前剧本文本（可能尚未解析）
func (s *ScriptService) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Pending 是否有尚未提交的编辑
func (s *ScriptService) Pending() bool {
	return s.debouncer.Pending()
}

// LastSaved 最近一次保存的时间
func (s *ScriptService) LastSaved() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSaved
}

// Flush 立即提交等待中的编辑
func (s *ScriptService) Flush() bool {
	return s.debouncer.Flush()
}

// Close 提交等待中的编辑并停止防抖器
func (s *ScriptService) Close() {
	s.debouncer.Flush()
	s.debouncer.Stop()
}

func (s *ScriptService) commit() {
	text := s.Text()

	speakers := s.registry.ApplyScript(text)

	if err := s.store.Save(context.Background(), text); err != nil {
		utils.GetLogger().Error("保存剧本失败", map[string]interface{}{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.lastSaved = time.Now()
	s.mu.Unlock()

	utils.GetLogger().Debug("剧本已解析并保存", map[string]interface{}{
		"length":   len(text),
		"speakers": len(speakers),
	})
}
