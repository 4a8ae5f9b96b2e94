// internal/api/router.go
package api

import (
	"fmt"

	"github.com/Corphon/ScriptVoice/internal/config"
	"github.com/Corphon/ScriptVoice/internal/di"
	"github.com/Corphon/ScriptVoice/internal/services"
	"github.com/Corphon/ScriptVoice/internal/storage"
	"github.com/Corphon/ScriptVoice/internal/tts"
	"github.com/gin-gonic/gin"
)

// SetupRouter 从依赖注入容器获取服务并配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	container := di.GetContainer()

	scriptService, err := di.Resolve[*services.ScriptService](container, "script")
	if err != nil {
		return nil, fmt.Errorf("剧本服务未正确初始化: %w", err)
	}
	registry, err := di.Resolve[*services.SpeakerRegistry](container, "registry")
	if err != nil {
		return nil, fmt.Errorf("说话人注册表未正确初始化: %w", err)
	}
	narrationService, err := di.Resolve[*services.NarrationService](container, "narration")
	if err != nil {
		return nil, fmt.Errorf("合成编排服务未正确初始化: %w", err)
	}
	ttsService, err := di.Resolve[*tts.Service](container, "tts")
	if err != nil {
		return nil, fmt.Errorf("TTS服务未正确初始化: %w", err)
	}
	audioStore, err := di.Resolve[*storage.AudioStore](container, "audio")
	if err != nil {
		return nil, fmt.Errorf("音频存储未正确初始化: %w", err)
	}
	hub, err := di.Resolve[*SessionHub](container, "hub")
	if err != nil {
		return nil, fmt.Errorf("WebSocket 推送中心未正确初始化: %w", err)
	}

	handler := NewHandler(scriptService, registry, narrationService, ttsService, audioStore, hub)
	return NewRouter(handler, config.GetCurrentConfig().DebugMode), nil
}

// NewRouter 注册所有路由
func NewRouter(handler *Handler, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogger())
	r.Use(corsMiddleware())

	// 音频资源
	r.GET("/media/:file", handler.ServeAudio)

	// WebSocket 支持
	r.GET("/ws/session", handler.SessionWebSocket)

	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		api.GET("/health", handler.Health)
		api.GET("/voices", handler.GetVoices)

		// ===============================
		// 剧本相关路由
		// ===============================
		scriptGroup := api.Group("/script")
		{
			scriptGroup.GET("", handler.GetScript)
			scriptGroup.PUT("", handler.UpdateScript)
			scriptGroup.POST("/flush", handler.FlushScript)
			scriptGroup.POST("/parse", handler.ParseScript)
		}

		// ===============================
		// 会话与说话人
		// ===============================
		api.GET("/session", handler.GetSession)
		api.DELETE("/session/error", handler.ClearError)

		speakersGroup := api.Group("/speakers")
		{
			speakersGroup.GET("", handler.GetSpeakers)
			speakersGroup.PUT("/:id/voice", handler.SetVoice)
			speakersGroup.POST("/:id/preview", GenerationRateLimit(), handler.PreviewSpeaker)
		}

		// ===============================
		// 完整故事和进度
		// ===============================
		api.POST("/story", GenerationRateLimit(), handler.GenerateStory)
		api.GET("/story", handler.GetStory)
		api.GET("/progress/:taskID", handler.SubscribeProgress)

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("/tts", handler.UpdateTTSConfig)
		}
	}

	return r
}
