// internal/services/narration_service.go
package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Corphon/ScriptVoice/internal/errors"
	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/utils"
)

// 面向用户的错误消息
const (
	PreviewFailedMessage = "Failed to generate audio preview. Please try again."
	StoryFailedMessage   = "Failed to generate full story audio. Please try again."
	NoSpeakersMessage    = "Script is empty or no speakers detected."
)

// StoryScope 完整故事音频所属的资源作用域
const StoryScope = "story"

// ErrSuperseded 同一说话人（或完整故事）已经发起了更新的请求，本次结果被丢弃
var ErrSuperseded = stderrors.New("response superseded by a newer request")

// errNoAudio 后端成功返回但没有音频数据
var errNoAudio = stderrors.New("no audio data received")

// Synthesizer 语音合成后端
type Synthesizer interface {
	SynthesizeSingle(ctx context.Context, text string, voice models.VoiceID) ([]byte, error)
	SynthesizeMulti(ctx context.Context, transcript string, voices []models.VoiceAssignment) ([]byte, error)
}

// AudioDecoder 将音频载荷转换为可播放资源
type AudioDecoder interface {
	Decode(payload []byte, scope string) (string, error)
	Release(url string) error
}

// Player 预览成功后开始播放
type Player interface {
	Play(speakerID, url string)
}

// NarrationService 发起预览和完整故事的合成请求，并维护注册表中的加载和错误状态。
// 不重试，也不设置超时
type NarrationService struct {
	registry *SpeakerRegistry
	backend  Synthesizer
	decoder  AudioDecoder
	player   Player
	progress *ProgressService

	// 异步任务使用的上下文，与发起请求的 HTTP 连接无关
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewNarrationService 创建服务，player 和 progress 可以为 nil
func NewNarrationService(registry *SpeakerRegistry, backend Synthesizer, decoder AudioDecoder, player Player, progress *ProgressService) *NarrationService {
	ctx, cancel := context.WithCancel(context.Background())
	if progress == nil {
		progress = NewProgressService()
	}
	return &NarrationService{
		registry: registry,
		backend:  backend,
		decoder:  decoder,
		player:   player,
		progress: progress,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// SpeakerScope 说话人预览音频所属的资源作用域
func SpeakerScope(id string) string {
	return "speaker:" + id
}

// PreviewSpeaker 为单个说话人合成预览并返回音频地址。
// 说话人不存在时返回未找到错误且不修改任何状态
func (s *NarrationService) PreviewSpeaker(ctx context.Context, speakerID string) (string, error) {
	speaker, gen, err := s.beginPreview(speakerID)
	if err != nil {
		return "", err
	}
	return s.preview(ctx, speaker, gen)
}

// 先登记代数再读取语音，之后的语音修改会使本次结果作废
func (s *NarrationService) beginPreview(speakerID string) (models.Speaker, uint64, error) {
	if _, ok := s.registry.Speaker(speakerID); !ok {
		return models.Speaker{}, 0, errors.NewNotFoundError("speaker not found: "+speakerID, nil)
	}
	gen := s.registry.BeginPreview(speakerID)
	speaker, ok := s.registry.Speaker(speakerID)
	if !ok {
		s.registry.FinishPreview(speakerID, gen, nil, "")
		return models.Speaker{}, 0, errors.NewNotFoundError("speaker not found: "+speakerID, nil)
	}
	return speaker, gen, nil
}

// StartPreview 异步执行 PreviewSpeaker，加载标记在返回前已经设置
func (s *NarrationService) StartPreview(speakerID string) error {
	speaker, gen, err := s.beginPreview(speakerID)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.preview(s.baseCtx, speaker, gen)
	}()
	return nil
}

func (s *NarrationService) preview(ctx context.Context, speaker models.Speaker, gen uint64) (string, error) {
	payload, err := s.backend.SynthesizeSingle(ctx, speaker.JoinedDialogue(), speaker.Voice)
	url, err := s.decode(payload, err, SpeakerScope(speaker.ID))
	if err != nil {
		utils.GetLogger().Error("生成预览失败", map[string]interface{}{
			"speaker": speaker.ID,
			"voice":   string(speaker.Voice),
			"error":   err.Error(),
		})
		if !s.registry.FinishPreview(speaker.ID, gen, nil, PreviewFailedMessage) {
			return "", errors.NewConflictError("preview "+speaker.ID, ErrSuperseded)
		}
		return "", errors.NewUpstreamError(PreviewFailedMessage, err)
	}

	if !s.registry.FinishPreview(speaker.ID, gen, &url, "") {
		s.discard(url)
		return "", errors.NewConflictError("preview "+speaker.ID, ErrSuperseded)
	}

	utils.GetLogger().Info("预览已生成", map[string]interface{}{
		"speaker": speaker.ID,
		"url":     url,
	})
	if s.player != nil {
		s.player.Play(speaker.ID, url)
	}
	return url, nil
}

// GenerateFullStory 合成整个剧本并返回完整故事的音频地址
func (s *NarrationService) GenerateFullStory(ctx context.Context) (string, error) {
	speakers, gen, err := s.beginStory()
	if err != nil {
		return "", err
	}
	return s.story(ctx, speakers, gen, nil)
}

// StartFullStory 异步生成完整故事，返回可用于查询进度的任务ID。
// 没有说话人时同步返回前置条件错误
func (s *NarrationService) StartFullStory() (string, error) {
	speakers, gen, err := s.beginStory()
	if err != nil {
		return "", err
	}

	tracker := s.progress.StartTask("full_story")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.story(s.baseCtx, speakers, gen, tracker)
	}()
	return tracker.TaskID, nil
}

// Progress 进度服务
func (s *NarrationService) Progress() *ProgressService {
	return s.progress
}

func (s *NarrationService) beginStory() ([]models.Speaker, uint64, error) {
	speakers := s.registry.Speakers()
	if len(speakers) == 0 {
		s.registry.SetError(NoSpeakersMessage)
		return nil, 0, errors.NewPreconditionError(NoSpeakersMessage, nil)
	}
	return speakers, s.registry.BeginStory(), nil
}

func (s *NarrationService) story(ctx context.Context, speakers []models.Speaker, gen uint64, tracker *ProgressTracker) (string, error) {
	report := func(progress int, message string) {
		if tracker != nil {
			tracker.UpdateProgress(progress, message)
		}
	}

	var payload []byte
	var err error
	if len(speakers) == 1 {
		report(20, "正在合成单人语音")
		payload, err = s.backend.SynthesizeSingle(ctx, speakers[0].JoinedDialogue(), speakers[0].Voice)
	} else {
		transcript, voices := BuildTranscript(speakers)
		report(20, fmt.Sprintf("正在合成 %d 位说话人的对话", len(voices)))
		payload, err = s.backend.SynthesizeMulti(ctx, transcript, voices)
	}

	report(80, "正在处理音频")
	url, err := s.decode(payload, err, StoryScope)
	if err != nil {
		utils.GetLogger().Error("生成完整故事失败", map[string]interface{}{
			"speakers": len(speakers),
			"error":    err.Error(),
		})
		accepted := s.registry.FinishStory(gen, nil, StoryFailedMessage)
		if tracker != nil {
			tracker.Fail(StoryFailedMessage)
		}
		if !accepted {
			return "", errors.NewConflictError("full story", ErrSuperseded)
		}
		return "", errors.NewUpstreamError(StoryFailedMessage, err)
	}

	if !s.registry.FinishStory(gen, &url, "") {
		s.discard(url)
		if tracker != nil {
			tracker.Fail(ErrSuperseded.Error())
		}
		return "", errors.NewConflictError("full story", ErrSuperseded)
	}

	utils.GetLogger().Info("完整故事已生成", map[string]interface{}{
		"speakers": len(speakers),
		"url":      url,
	})
	if tracker != nil {
		tracker.Complete("完整故事已生成", url)
	}
	return url, nil
}

func (s *NarrationService) decode(payload []byte, callErr error, scope string) (string, error) {
	if callErr != nil {
		return "", callErr
	}
	if len(payload) == 0 {
		return "", errNoAudio
	}
	return s.decoder.Decode(payload, scope)
}

func (s *NarrationService) discard(url string) {
	if err := s.decoder.Release(url); err != nil {
		utils.GetLogger().Warn("释放过期音频失败", map[string]interface{}{"url": url, "error": err.Error()})
	}
}

// Wait 等待所有异步任务结束
func (s *NarrationService) Wait() {
	s.wg.Wait()
}

// Close 取消进行中的请求并等待其结束
func (s *NarrationService) Close() {
	s.cancel()
	s.wg.Wait()
}

// BuildTranscript 构建多人合成的文本：一行说明列出所有说话人，
// 之后按说话人分组（注册表顺序）输出 "名字: 台词"，并为每位说话人生成一条语音绑定
func BuildTranscript(speakers []models.Speaker) (string, []models.VoiceAssignment) {
	names := make([]string, 0, len(speakers))
	voices := make([]models.VoiceAssignment, 0, len(speakers))
	var lines []string

	for _, sp := range speakers {
		names = append(names, sp.Name)
		voices = append(voices, models.VoiceAssignment{Speaker: sp.Name, Voice: sp.Voice})
		for _, dialogue := range sp.Dialogues {
			lines = append(lines, sp.Name+": "+dialogue)
		}
	}

	transcript := "TTS the following conversation between " + strings.Join(names, " and ") + ":\n" +
		strings.Join(lines, "\n")
	return transcript, voices
}
