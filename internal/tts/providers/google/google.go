// internal/tts/providers/google/google.go
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/tts"
)

func init() {
	tts.Register("google", func() tts.Provider {
		return &Provider{
			baseURL: "https://generativelanguage.googleapis.com/v1beta",
			model:   "gemini-2.5-flash-preview-tts",
		}
	})
}

// Provider 直接调用 Gemini REST 接口的语音合成
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("google_api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model, exists := config["model"]; exists && model != "" {
		p.model = model
	}
	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	return nil
}

func (p *Provider) GetName() string {
	return "google gemini (rest)"
}

func voiceConfig(voice models.VoiceID) map[string]interface{} {
	return map[string]interface{}{
		"prebuiltVoiceConfig": map[string]string{"voiceName": string(voice)},
	}
}

func (p *Provider) SynthesizeSingle(ctx context.Context, text string, voice models.VoiceID) ([]byte, error) {
	speechConfig := map[string]interface{}{
		"voiceConfig": voiceConfig(voice),
	}
	return p.generate(ctx, text, speechConfig)
}

func (p *Provider) SynthesizeMulti(ctx context.Context, transcript string, voices []models.VoiceAssignment) ([]byte, error) {
	speakers := make([]map[string]interface{}, 0, len(voices))
	for _, v := range voices {
		speakers = append(speakers, map[string]interface{}{
			"speaker":     v.Speaker,
			"voiceConfig": voiceConfig(v.Voice),
		})
	}
	speechConfig := map[string]interface{}{
		"multiSpeakerVoiceConfig": map[string]interface{}{
			"speakerVoiceConfigs": speakers,
		},
	}
	return p.generate(ctx, transcript, speechConfig)
}

func (p *Provider) generate(ctx context.Context, text string, speechConfig map[string]interface{}) ([]byte, error) {
	requestBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": text}}},
		},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"AUDIO"},
			"speechConfig":       speechConfig,
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	// 密钥放在请求头中，传输错误返回的 *url.Error 会带上完整 URL
	apiURL := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errorResp map[string]interface{}
		body, _ := io.ReadAll(httpResp.Body)
		if err := json.Unmarshal(body, &errorResp); err == nil {
			if errorObj, ok := errorResp["error"].(map[string]interface{}); ok {
				return nil, fmt.Errorf("google gemini API错误(%d): %v", httpResp.StatusCode, errorObj["message"])
			}
		}
		return nil, fmt.Errorf("google gemini API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	if len(response.Candidates) == 0 {
		return nil, nil
	}
	for _, part := range response.Candidates[0].Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("音频数据不是有效的base64: %w", err)
		}
		return audio, nil
	}
	return nil, nil
}
