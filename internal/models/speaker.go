// internal/models/speaker.go
package models

import "strings"

// VoiceID 合成语音的标识，取值范围由语音目录决定
type VoiceID string

// DefaultVoiceCatalog 默认语音目录（Gemini 预置语音）
var DefaultVoiceCatalog = VoiceCatalog{
	"Kore", "Puck", "Charon", "Zephyr", "Fenrir", "Leda", "Orus", "Aoede",
}

// Speaker 表示从剧本中解析出的一个说话人
type Speaker struct {
	ID        string   `json:"id"`        // 由名字派生的稳定标识
	Name      string   `json:"name"`      // 原样保留，大小写敏感
	Dialogues []string `json:"dialogues"` // 按出现顺序排列的台词，至少一条
	Voice     VoiceID  `json:"voice"`     // 语音目录中的成员
}

// JoinedDialogue 将所有台词以单个空格连接为一段文本
func (s Speaker) JoinedDialogue() string {
	return strings.Join(s.Dialogues, " ")
}

// Clone 返回说话人的深拷贝
func (s Speaker) Clone() Speaker {
	c := s
	c.Dialogues = append([]string(nil), s.Dialogues...)
	return c
}

// VoiceAssignment 多人合成请求中的一条 说话人-语音 绑定
type VoiceAssignment struct {
	Speaker string  `json:"speaker"`
	Voice   VoiceID `json:"voice"`
}

// VoiceCatalog 有序的语音目录
type VoiceCatalog []VoiceID

// Contains 检查语音是否属于目录
func (c VoiceCatalog) Contains(voice VoiceID) bool {
	for _, v := range c {
		if v == voice {
			return true
		}
	}
	return false
}

// At 按位置循环取语音
func (c VoiceCatalog) At(i int) VoiceID {
	if len(c) == 0 {
		return ""
	}
	if i < 0 {
		i = -i
	}
	return c[i%len(c)]
}

// ParseVoiceCatalog 解析逗号分隔的语音列表，空值返回默认目录
func ParseVoiceCatalog(raw string) VoiceCatalog {
	var catalog VoiceCatalog
	seen := make(map[VoiceID]bool)
	for _, part := range strings.Split(raw, ",") {
		v := VoiceID(strings.TrimSpace(part))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		catalog = append(catalog, v)
	}
	if len(catalog) == 0 {
		return append(VoiceCatalog(nil), DefaultVoiceCatalog...)
	}
	return catalog
}

// CloneSpeakers 深拷贝说话人列表
func CloneSpeakers(speakers []Speaker) []Speaker {
	if speakers == nil {
		return nil
	}
	out := make([]Speaker, len(speakers))
	for i, s := range speakers {
		out[i] = s.Clone()
	}
	return out
}
