// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 剧本和说话人
	ErrorSpeakerNotFound = "SPEAKER_NOT_FOUND"
	ErrorVoiceInvalid    = "VOICE_INVALID"
	ErrorNoSpeakers      = "NO_SPEAKERS"
	ErrorTaskNotFound    = "TASK_NOT_FOUND"
	ErrorAudioNotFound   = "AUDIO_NOT_FOUND"

	// TTS 服务
	ErrorTTSUnavailable    = "TTS_SERVICE_UNAVAILABLE"
	ErrorTTSConfigInvalid  = "TTS_CONFIG_INVALID"
	ErrorTTSBackendFailure = "TTS_BACKEND_ERROR"
)
