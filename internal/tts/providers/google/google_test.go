package google

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path     string
	Key      string
	QueryKey string
	Body     map[string]any
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Key = r.Header.Get("x-goog-api-key")
		captured.QueryKey = r.URL.Query().Get("key")
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func nested(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

func TestSynthesizeSingleBuildsSpeechConfig(t *testing.T) {
	server, req := newServer(t, http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/L16","data":"AQID"}}]}}]}`)

	p, err := tts.GetProvider("google", map[string]string{"api_key": "secret", "base_url": server.URL + "/"})
	require.NoError(t, err)

	audio, err := p.SynthesizeSingle(t.Context(), "Hello there.", "Kore")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, audio)

	assert.Equal(t, "/models/gemini-2.5-flash-preview-tts:generateContent", req.Path)
	assert.Equal(t, "secret", req.Key)
	assert.Empty(t, req.QueryKey)
	assert.Equal(t, "Kore", nested(req.Body, "generationConfig", "speechConfig", "voiceConfig", "prebuiltVoiceConfig", "voiceName"))
	assert.Equal(t, []any{"AUDIO"}, nested(req.Body, "generationConfig", "responseModalities"))

	contents := req.Body["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	assert.Equal(t, "Hello there.", parts[0].(map[string]any)["text"])
}

func TestSynthesizeMultiBuildsSpeakerConfigs(t *testing.T) {
	server, req := newServer(t, http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"inlineData":{"data":"BAU="}}]}}]}`)

	p, err := tts.GetProvider("google", map[string]string{"api_key": "k", "base_url": server.URL})
	require.NoError(t, err)

	audio, err := p.SynthesizeMulti(t.Context(), "transcript", []models.VoiceAssignment{
		{Speaker: "Alice", Voice: "Kore"},
		{Speaker: "Bob", Voice: "Puck"},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, audio)

	configs := nested(req.Body, "generationConfig", "speechConfig", "multiSpeakerVoiceConfig", "speakerVoiceConfigs").([]any)
	require.Len(t, configs, 2)
	assert.Equal(t, "Bob", configs[1].(map[string]any)["speaker"])
	assert.Equal(t, "Puck", nested(configs[1].(map[string]any), "voiceConfig", "prebuiltVoiceConfig", "voiceName"))
}

func TestSynthesizeNoAudioReturnsNil(t *testing.T) {
	server, _ := newServer(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`)

	p, err := tts.GetProvider("google", map[string]string{"api_key": "k", "base_url": server.URL})
	require.NoError(t, err)

	audio, err := p.SynthesizeSingle(t.Context(), "x", "Kore")
	require.NoError(t, err)
	assert.Nil(t, audio)
}

func TestSynthesizeAPIError(t *testing.T) {
	server, _ := newServer(t, http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota"}}`)

	p, err := tts.GetProvider("google", map[string]string{"api_key": "k", "base_url": server.URL})
	require.NoError(t, err)

	_, err = p.SynthesizeSingle(t.Context(), "x", "Kore")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota")
}

func TestInitializeRequiresKey(t *testing.T) {
	_, err := tts.GetProvider("google", map[string]string{"model": "m"})
	assert.Error(t, err)
}

func TestTransportErrorDoesNotLeakKey(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	p, err := tts.GetProvider("google", map[string]string{"api_key": "very-secret-key", "base_url": server.URL})
	require.NoError(t, err)

	_, err = p.SynthesizeSingle(t.Context(), "Hi.", "Kore")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "very-secret-key")
}
