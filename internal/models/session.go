// internal/models/session.go
package models

import "time"

// SpeakerState 单个说话人的对外视图
type SpeakerState struct {
	Speaker
	AudioURL  *string `json:"audio_url"`  // nil 表示没有有效的预览缓存
	IsLoading bool    `json:"is_loading"` // 预览请求进行中
}

// FullStoryState 完整故事的生成状态
type FullStoryState struct {
	AudioURL     *string `json:"audio_url"`
	IsGenerating bool    `json:"is_generating"`
}

// SessionSnapshot 会话状态的只读快照
type SessionSnapshot struct {
	Speakers  []SpeakerState `json:"speakers"`
	FullStory FullStoryState `json:"full_story"`
	Error     *string        `json:"error"`
	Version   uint64         `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Speaker 按 ID 查找快照中的说话人
func (s SessionSnapshot) Speaker(id string) (SpeakerState, bool) {
	for _, sp := range s.Speakers {
		if sp.ID == id {
			return sp, true
		}
	}
	return SpeakerState{}, false
}
