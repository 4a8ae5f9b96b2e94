// internal/api/handlers.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Corphon/ScriptVoice/internal/config"
	apperrors "github.com/Corphon/ScriptVoice/internal/errors"
	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/services"
	"github.com/Corphon/ScriptVoice/internal/storage"
	"github.com/Corphon/ScriptVoice/internal/tts"
	"github.com/Corphon/ScriptVoice/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	ScriptService    *services.ScriptService    // 剧本编辑与防抖提交
	Registry         *services.SpeakerRegistry  // 会话状态
	NarrationService *services.NarrationService // 预览与完整故事
	ProgressService  *services.ProgressService  // 进度跟踪服务
	TTSService       *tts.Service               // 语音合成后端
	AudioStore       *storage.AudioStore        // 音频资源
	Hub              *SessionHub                // WebSocket 推送
	Response         *ResponseHelper            // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	scriptService *services.ScriptService,
	registry *services.SpeakerRegistry,
	narrationService *services.NarrationService,
	ttsService *tts.Service,
	audioStore *storage.AudioStore,
	hub *SessionHub,
) *Handler {
	return &Handler{
		ScriptService:    scriptService,
		Registry:         registry,
		NarrationService: narrationService,
		ProgressService:  narrationService.Progress(),
		TTSService:       ttsService,
		AudioStore:       audioStore,
		Hub:              hub,
		Response:         NewResponseHelper(),
	}
}

// Health 存活检查和TTS状态
func (h *Handler) Health(c *gin.Context) {
	name, ready, state := h.TTSService.Status()
	h.Response.Success(c, gin.H{
		"status": "ok",
		"tts": gin.H{
			"provider": name,
			"ready":    ready,
			"state":    state,
		},
		"ws_clients": h.Hub.ClientCount(),
		"audio":      h.AudioStore.Count(),
		"metrics":    utils.GetMetricsCollector().GetMetrics(),
		"time":       time.Now().Format(time.RFC3339),
	})
}

// GetVoices 返回语音目录
func (h *Handler) GetVoices(c *gin.Context) {
	h.Response.Success(c, h.Registry.Catalog())
}

// GetScript 返回当前剧本文本
func (h *Handler) GetScript(c *gin.Context) {
	data := gin.H{
		"script":  h.ScriptService.Text(),
		"pending": h.ScriptService.Pending(),
	}
	if saved := h.ScriptService.LastSaved(); !saved.IsZero() {
		data["saved_at"] = saved
	}
	h.Response.Success(c, data)
}

type scriptRequest struct {
	Script *string `json:"script" binding:"required"`
}

// UpdateScript 记录编辑，解析和保存在安静期结束后执行
func (h *Handler) UpdateScript(c *gin.Context) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	h.ScriptService.UpdateScript(*req.Script)
	h.Response.Accepted(c, gin.H{"length": len(*req.Script)}, "剧本将在编辑停止后解析")
}

// FlushScript 立即提交等待中的编辑
func (h *Handler) FlushScript(c *gin.Context) {
	flushed := h.ScriptService.Flush()
	h.Response.Success(c, gin.H{
		"flushed":  flushed,
		"speakers": h.Registry.Speakers(),
	})
}

// ParseScript 无状态解析，不修改会话
func (h *Handler) ParseScript(c *gin.Context) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	speakers := services.ParseScript(*req.Script, h.Registry.Speakers(), h.Registry.Catalog())
	h.Response.Success(c, speakers)
}

// GetSession 返回完整的会话快照
func (h *Handler) GetSession(c *gin.Context) {
	h.Response.Success(c, h.Registry.Snapshot())
}

// GetSpeakers 返回说话人及其预览状态
func (h *Handler) GetSpeakers(c *gin.Context) {
	h.Response.Success(c, h.Registry.Snapshot().Speakers)
}

// SetVoice 修改说话人的语音
func (h *Handler) SetVoice(c *gin.Context) {
	var req struct {
		Voice string `json:"voice" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	speakerID := c.Param("id")
	if err := h.Registry.SetVoice(speakerID, models.VoiceID(req.Voice)); err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.Error(c, http.StatusBadRequest, ErrorVoiceInvalid, err.Error())
			return
		}
		h.Response.AppError(c, err)
		return
	}

	state, _ := h.Registry.Snapshot().Speaker(speakerID)
	h.Response.Success(c, state, "语音已更新")
}

// PreviewSpeaker 异步生成预览，结果通过会话快照和 play 事件送达
func (h *Handler) PreviewSpeaker(c *gin.Context) {
	speakerID := c.Param("id")
	if err := h.NarrationService.StartPreview(speakerID); err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Accepted(c, gin.H{"speaker_id": speakerID}, "预览生成中")
}

// GenerateStory 异步生成完整故事，返回任务ID
func (h *Handler) GenerateStory(c *gin.Context) {
	taskID, err := h.NarrationService.StartFullStory()
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Accepted(c, gin.H{
		"task_id":      taskID,
		"progress_url": "/api/progress/" + taskID,
	}, "完整故事生成中，请订阅进度更新")
}

// GetStory 返回完整故事状态
func (h *Handler) GetStory(c *gin.Context) {
	h.Response.Success(c, h.Registry.Snapshot().FullStory)
}

// ClearError 确认并清除全局错误
func (h *Handler) ClearError(c *gin.Context) {
	h.Registry.ClearError()
	h.Response.Success(c, nil, "错误已清除")
}

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	taskID := c.Param("taskID")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "task")
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"task_id\":%q}\n\n", taskID)
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", string(data))
			c.Writer.Flush()

			// 任务结束后关闭连接
			if update.Status == services.TaskCompleted || update.Status == services.TaskFailed {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// GetSettings 返回TTS设置，不包含密钥
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	name, ready, state := h.TTSService.Status()

	ttsConfig := make(map[string]interface{})
	for k, v := range cfg.TTSConfig {
		if k == "api_key" {
			continue
		}
		ttsConfig[k] = v
	}
	ttsConfig["has_api_key"] = cfg.TTSConfig["api_key"] != ""

	h.Response.Success(c, gin.H{
		"tts_provider":        cfg.TTSProvider,
		"tts_config":          ttsConfig,
		"available_providers": tts.ListProviders(),
		"active_provider":     name,
		"ready":               ready,
		"state":               state,
		"debounce_interval":   cfg.DebounceInterval.String(),
		"script_store":        cfg.ScriptStore,
		"debug_mode":          cfg.DebugMode,
	}, "设置获取成功")
}

// UpdateTTSConfig 切换TTS提供者并保存配置
func (h *Handler) UpdateTTSConfig(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider" binding:"required"`
		Config   map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	if req.Config == nil {
		req.Config = make(map[string]string)
	}

	// 未提供密钥时沿用当前密钥
	if req.Config["api_key"] == "" {
		if current := config.GetCurrentConfig().TTSConfig["api_key"]; current != "" {
			req.Config["api_key"] = current
		}
	}

	if err := h.TTSService.Configure(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorTTSConfigInvalid, "TTS配置无效", err.Error())
		return
	}

	if err := config.UpdateTTSConfig(req.Provider, req.Config); err != nil {
		utils.GetLogger().Warn("保存TTS配置失败", map[string]interface{}{"error": err.Error()})
		h.Response.Error(c, http.StatusPartialContent, ErrorInternalError,
			"TTS服务已切换，但配置保存失败", err.Error())
		return
	}

	h.Response.Success(c, nil, "TTS配置更新成功")
}

// ServeAudio 返回音频资源
func (h *Handler) ServeAudio(c *gin.Context) {
	path, err := h.AudioStore.Resolve(c.Param("file"))
	if err != nil {
		h.Response.NotFound(c, "audio")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.File(path)
}
