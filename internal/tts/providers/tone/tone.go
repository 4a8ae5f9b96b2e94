// internal/tts/providers/tone/tone.go
package tone

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/tts"
)

func init() {
	tts.Register("tone", func() tts.Provider {
		return &Provider{sampleRate: 24000, msPerRune: 40, maxMillis: 8000}
	})
}

// Provider 离线提供者：每个语音对应一个固定频率的正弦音，时长与文本长度成正比。
// 输出与 Gemini 相同的 16 位单声道 PCM，用于本地开发和演示
type Provider struct {
	sampleRate int
	msPerRune  int
	maxMillis  int
}

func (p *Provider) Initialize(config map[string]string) error {
	if v, ok := config["sample_rate"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("无效的 sample_rate: %s", v)
		}
		p.sampleRate = n
	}
	if v, ok := config["ms_per_char"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("无效的 ms_per_char: %s", v)
		}
		p.msPerRune = n
	}
	return nil
}

func (p *Provider) GetName() string {
	return "offline tone"
}

func (p *Provider) SynthesizeSingle(ctx context.Context, text string, voice models.VoiceID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return p.render(p.millis(text), Frequency(voice)), nil
}

// SynthesizeMulti 依次为每个说话人的台词生成对应频率的音段
func (p *Provider) SynthesizeMulti(ctx context.Context, transcript string, voices []models.VoiceAssignment) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	byName := make(map[string]models.VoiceID, len(voices))
	for _, v := range voices {
		byName[v.Speaker] = v.Voice
	}

	var pcm []byte
	for _, line := range strings.Split(transcript, "\n") {
		name, dialogue, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		voice, known := byName[strings.TrimSpace(name)]
		dialogue = strings.TrimSpace(dialogue)
		if !known || dialogue == "" {
			continue
		}
		pcm = append(pcm, p.render(p.millis(dialogue), Frequency(voice))...)
	}
	return pcm, nil
}

func (p *Provider) millis(text string) int {
	ms := len([]rune(text)) * p.msPerRune
	if ms > p.maxMillis {
		ms = p.maxMillis
	}
	return ms
}

func (p *Provider) render(ms int, freq float64) []byte {
	samples := p.sampleRate * ms / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(p.sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}

// Frequency 根据语音名称得到稳定的音高（220Hz ~ 660Hz）
func Frequency(voice models.VoiceID) float64 {
	h := fnv.New32a()
	h.Write([]byte(voice))
	return 220 + float64(h.Sum32()%440)
}
