// internal/tts/providers/genai/genai.go
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/tts"
	sdk "google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash-preview-tts"

func init() {
	tts.Register("genai", func() tts.Provider {
		return &Provider{}
	})
}

// Provider 通过 google.golang.org/genai SDK 调用 Gemini TTS
type Provider struct {
	client *sdk.Client
	model  string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config["api_key"])
	if apiKey == "" {
		return errors.New("gemini api密钥未提供")
	}

	p.model = defaultModel
	if model := strings.TrimSpace(config["model"]); model != "" {
		p.model = model
	}

	clientConfig := &sdk.ClientConfig{
		APIKey:     apiKey,
		Backend:    sdk.BackendGeminiAPI,
		// 不设置超时，请求生命周期由调用方的 ctx 决定
		HTTPClient: &http.Client{},
	}
	if baseURL := strings.TrimRight(config["base_url"], "/"); baseURL != "" {
		clientConfig.HTTPOptions = sdk.HTTPOptions{BaseURL: baseURL}
	}

	client, err := sdk.NewClient(context.Background(), clientConfig)
	if err != nil {
		return fmt.Errorf("初始化genai客户端失败: %w", err)
	}
	p.client = client
	return nil
}

func (p *Provider) GetName() string {
	return "gemini (genai sdk)"
}

func (p *Provider) SynthesizeSingle(ctx context.Context, text string, voice models.VoiceID) ([]byte, error) {
	config := &sdk.GenerateContentConfig{
		ResponseModalities: []string{string(sdk.ModalityAudio)},
		SpeechConfig: &sdk.SpeechConfig{
			VoiceConfig: prebuiltVoice(voice),
		},
	}
	return p.generate(ctx, text, config)
}

func (p *Provider) SynthesizeMulti(ctx context.Context, transcript string, voices []models.VoiceAssignment) ([]byte, error) {
	speakerConfigs := make([]*sdk.SpeakerVoiceConfig, 0, len(voices))
	for _, v := range voices {
		speakerConfigs = append(speakerConfigs, &sdk.SpeakerVoiceConfig{
			Speaker:     v.Speaker,
			VoiceConfig: prebuiltVoice(v.Voice),
		})
	}

	config := &sdk.GenerateContentConfig{
		ResponseModalities: []string{string(sdk.ModalityAudio)},
		SpeechConfig: &sdk.SpeechConfig{
			MultiSpeakerVoiceConfig: &sdk.MultiSpeakerVoiceConfig{
				SpeakerVoiceConfigs: speakerConfigs,
			},
		},
	}
	return p.generate(ctx, transcript, config)
}

func (p *Provider) generate(ctx context.Context, text string, config *sdk.GenerateContentConfig) ([]byte, error) {
	if p.client == nil {
		return nil, errors.New("genai客户端未初始化")
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, sdk.Text(text), config)
	if err != nil {
		var apiErr sdk.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("Gemini API request failed (status=%d): %s", apiErr.Code, strings.TrimSpace(apiErr.Message))
		}
		return nil, fmt.Errorf("Gemini API request failed: %w", err)
	}
	return firstAudio(resp), nil
}

func prebuiltVoice(voice models.VoiceID) *sdk.VoiceConfig {
	return &sdk.VoiceConfig{
		PrebuiltVoiceConfig: &sdk.PrebuiltVoiceConfig{VoiceName: string(voice)},
	}
}

// firstAudio 取第一个候选中第一段内联音频
func firstAudio(resp *sdk.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data
		}
	}
	return nil
}
