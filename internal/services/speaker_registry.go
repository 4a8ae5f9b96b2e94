// internal/services/speaker_registry.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/ScriptVoice/internal/errors"
	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/utils"
)

// Releaser 释放不再被引用的音频资源
type Releaser interface {
	Release(url string) error
}

// SpeakerRegistry 持有会话的全部可变状态：说话人列表、预览音频、加载标记、
// 完整故事状态和全局错误。所有修改都通过具名的状态转换方法完成，读取方只拿到快照
type SpeakerRegistry struct {
	mu        sync.RWMutex
	catalog   models.VoiceCatalog
	speakers  []models.Speaker
	audio     map[string]*string
	audioFor  map[string]models.VoiceID // 缓存音频生成时使用的语音
	loading   map[string]bool
	previews  map[string]uint64 // 每个说话人最新的预览请求代数
	story     models.FullStoryState
	storyGen  uint64
	lastError *string
	version   uint64
	updatedAt time.Time

	releaser Releaser

	subMu       sync.Mutex
	subscribers map[chan models.SessionSnapshot]bool
}

// NewSpeakerRegistry 创建注册表，releaser 可以为 nil
func NewSpeakerRegistry(catalog models.VoiceCatalog, releaser Releaser) *SpeakerRegistry {
	if len(catalog) == 0 {
		catalog = models.DefaultVoiceCatalog
	}
	return &SpeakerRegistry{
		catalog:     append(models.VoiceCatalog(nil), catalog...),
		speakers:    []models.Speaker{},
		audio:       make(map[string]*string),
		audioFor:    make(map[string]models.VoiceID),
		loading:     make(map[string]bool),
		previews:    make(map[string]uint64),
		updatedAt:   time.Now(),
		releaser:    releaser,
		subscribers: make(map[chan models.SessionSnapshot]bool),
	}
}

// Catalog 返回语音目录副本
func (r *SpeakerRegistry) Catalog() models.VoiceCatalog {
	return append(models.VoiceCatalog(nil), r.catalog...)
}

// Speakers 返回当前说话人列表的深拷贝
func (r *SpeakerRegistry) Speakers() []models.Speaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.CloneSpeakers(r.speakers)
}

// Speaker 按 ID 查找说话人，ID 重复时返回第一个
func (r *SpeakerRegistry) Speaker(id string) (models.Speaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sp := range r.speakers {
		if sp.ID == id {
			return sp.Clone(), true
		}
	}
	return models.Speaker{}, false
}

// ApplyScript 以当前说话人为基础重新解析剧本并整体替换说话人列表。
// 说话人消失或语音与缓存音频不一致时，其预览音频失效，进行中的预览被作废
func (r *SpeakerRegistry) ApplyScript(text string) []models.Speaker {
	r.mu.Lock()
	r.speakers = ParseScript(text, r.speakers, r.catalog)

	voices := make(map[string]models.VoiceID, len(r.speakers))
	for _, sp := range r.speakers {
		if _, seen := voices[sp.ID]; !seen {
			voices[sp.ID] = sp.Voice
		}
	}

	var stale []*string
	for id, url := range r.audio {
		if voice, ok := voices[id]; ok && voice == r.audioFor[id] {
			continue
		}
		stale = append(stale, url)
		delete(r.audio, id)
		delete(r.audioFor, id)
	}
	for id := range r.loading {
		if _, ok := voices[id]; !ok {
			r.previews[id]++
			delete(r.loading, id)
		}
	}

	speakers := models.CloneSpeakers(r.speakers)
	snapshot := r.touchLocked()
	r.mu.Unlock()

	for _, url := range stale {
		r.release(url)
	}
	r.publish(snapshot)
	return speakers
}

// SetVoice 修改说话人的语音并使其预览音频失效。
// 旧语音下进行中的预览被作废，加载标记随之清除
func (r *SpeakerRegistry) SetVoice(id string, voice models.VoiceID) error {
	if !r.catalog.Contains(voice) {
		return errors.NewValidationError("voice is not in the catalog: "+string(voice), nil)
	}

	r.mu.Lock()
	found := false
	for i := range r.speakers {
		if r.speakers[i].ID == id {
			r.speakers[i].Voice = voice
			found = true
		}
	}
	if !found {
		r.mu.Unlock()
		return errors.NewNotFoundError("speaker not found: "+id, nil)
	}
	stale := r.audio[id]
	delete(r.audio, id)
	delete(r.audioFor, id)
	r.previews[id]++
	r.loading[id] = false
	snapshot := r.touchLocked()
	r.mu.Unlock()

	r.release(stale)
	r.publish(snapshot)
	return nil
}

// BeginPreview 标记预览开始并清除全局错误，返回本次请求的代数
func (r *SpeakerRegistry) BeginPreview(id string) uint64 {
	r.mu.Lock()
	r.previews[id]++
	gen := r.previews[id]
	r.loading[id] = true
	r.lastError = nil
	snapshot := r.touchLocked()
	r.mu.Unlock()

	r.publish(snapshot)
	return gen
}

// FinishPreview 结束一次预览。url 为 nil 时保留原有音频，failure 非空时写入全局错误。
// 代数不是最新的响应被丢弃并返回 false，调用方负责释放其资源
func (r *SpeakerRegistry) FinishPreview(id string, gen uint64, url *string, failure string) bool {
	r.mu.Lock()
	if r.previews[id] != gen {
		r.mu.Unlock()
		return false
	}

	var stale *string
	if url != nil {
		stale = r.audio[id]
		r.audio[id] = url
		r.audioFor[id] = r.voiceLocked(id)
	}
	if failure != "" {
		r.lastError = &failure
	}
	r.loading[id] = false
	snapshot := r.touchLocked()
	r.mu.Unlock()

	r.release(stale)
	r.publish(snapshot)
	return true
}

// BeginStory 标记完整故事开始生成，清除已有的故事音频和全局错误
func (r *SpeakerRegistry) BeginStory() uint64 {
	r.mu.Lock()
	r.storyGen++
	gen := r.storyGen
	stale := r.story.AudioURL
	r.story = models.FullStoryState{IsGenerating: true}
	r.lastError = nil
	snapshot := r.touchLocked()
	r.mu.Unlock()

	r.release(stale)
	r.publish(snapshot)
	return gen
}

// FinishStory 结束一次完整故事生成，规则同 FinishPreview
func (r *SpeakerRegistry) FinishStory(gen uint64, url *string, failure string) bool {
	r.mu.Lock()
	if r.storyGen != gen {
		r.mu.Unlock()
		return false
	}

	var stale *string
	if url != nil {
		stale = r.story.AudioURL
		r.story.AudioURL = url
	}
	if failure != "" {
		r.lastError = &failure
	}
	r.story.IsGenerating = false
	snapshot := r.touchLocked()
	r.mu.Unlock()

	r.release(stale)
	r.publish(snapshot)
	return true
}

// SetError 覆盖全局错误
func (r *SpeakerRegistry) SetError(message string) {
	r.mu.Lock()
	r.lastError = &message
	snapshot := r.touchLocked()
	r.mu.Unlock()

	r.publish(snapshot)
}

// ClearError 清除全局错误（用户确认）
func (r *SpeakerRegistry) ClearError() {
	r.mu.Lock()
	r.lastError = nil
	snapshot := r.touchLocked()
	r.mu.Unlock()

	r.publish(snapshot)
}

// AudioURL 返回说话人的预览音频地址，nil 表示没有有效缓存
func (r *SpeakerRegistry) AudioURL(id string) *string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyString(r.audio[id])
}

// Snapshot 返回会话状态的只读快照
func (r *SpeakerRegistry) Snapshot() models.SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Subscribe 订阅状态变化，立即收到一次当前快照。
// 每个订阅者只保留最新的一份未读快照
func (r *SpeakerRegistry) Subscribe() chan models.SessionSnapshot {
	ch := make(chan models.SessionSnapshot, 1)

	r.subMu.Lock()
	ch <- r.Snapshot()
	r.subscribers[ch] = true
	r.subMu.Unlock()
	return ch
}

// Unsubscribe 取消订阅并关闭通道
func (r *SpeakerRegistry) Unsubscribe(ch chan models.SessionSnapshot) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.subscribers[ch] {
		delete(r.subscribers, ch)
		close(ch)
	}
}

func (r *SpeakerRegistry) voiceLocked(id string) models.VoiceID {
	for _, sp := range r.speakers {
		if sp.ID == id {
			return sp.Voice
		}
	}
	return ""
}

func (r *SpeakerRegistry) touchLocked() models.SessionSnapshot {
	r.version++
	r.updatedAt = time.Now()
	return r.snapshotLocked()
}

func (r *SpeakerRegistry) snapshotLocked() models.SessionSnapshot {
	states := make([]models.SpeakerState, 0, len(r.speakers))
	for _, sp := range r.speakers {
		states = append(states, models.SpeakerState{
			Speaker:   sp.Clone(),
			AudioURL:  copyString(r.audio[sp.ID]),
			IsLoading: r.loading[sp.ID],
		})
	}
	return models.SessionSnapshot{
		Speakers: states,
		FullStory: models.FullStoryState{
			AudioURL:     copyString(r.story.AudioURL),
			IsGenerating: r.story.IsGenerating,
		},
		Error:     copyString(r.lastError),
		Version:   r.version,
		UpdatedAt: r.updatedAt,
	}
}

func (r *SpeakerRegistry) publish(snapshot models.SessionSnapshot) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for ch := range r.subscribers {
		latest := snapshot
		// 用新快照覆盖未读的旧快照，版本更高的保留
		select {
		case pending := <-ch:
			if pending.Version > latest.Version {
				latest = pending
			}
		default:
		}
		select {
		case ch <- latest:
		default:
		}
	}
}

func (r *SpeakerRegistry) release(url *string) {
	if url == nil || r.releaser == nil {
		return
	}
	if err := r.releaser.Release(*url); err != nil {
		utils.GetLogger().Warn("释放音频资源失败", map[string]interface{}{
			"url":   *url,
			"error": err.Error(),
		})
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
