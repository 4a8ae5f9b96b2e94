// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 54 * time.Second
)

// SessionWebSocket 处理会话 WebSocket 连接：推送状态快照和播放事件，并接收用户操作
func (h *Handler) SessionWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("会话 WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	client := newWebSocketClient(uuid.New().String(), conn)

	select {
	case h.Hub.register <- client:
	default:
		utils.GetLogger().Error("无法注册 WebSocket 客户端，注册通道已满", nil)
		conn.Close()
		return
	}

	go h.handleWebSocketWrites(client)

	client.SendMessage(map[string]interface{}{
		"type":      "connected",
		"client_id": client.id,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	h.sendState(client)

	h.handleWebSocketReads(client)
}

// handleWebSocketReads 读取客户端消息，连接断开后注销客户端
func (h *Handler) handleWebSocketReads(client *WebSocketClient) {
	defer func() {
		select {
		case h.Hub.unregister <- client:
		case <-time.After(time.Second):
			client.Close()
		}
	}()

	client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for !client.IsClosed() {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Warn("WebSocket 读取错误", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var message wsMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			client.SendError("invalid message")
			continue
		}
		h.handleMessage(client, message)
	}
}

// handleWebSocketWrites 将队列中的消息写入连接，并定期发送 ping
func (h *Handler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			return
		}
	}
}

// wsMessage 客户端发来的操作
type wsMessage struct {
	Type      string `json:"type"`
	SpeakerID string `json:"speaker_id,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Script    string `json:"script,omitempty"`
}

// handleMessage 处理收到的 WebSocket 消息
func (h *Handler) handleMessage(client *WebSocketClient, message wsMessage) {
	switch message.Type {
	case "ping":
		client.SendMessage(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Unix(),
		})

	case "refresh":
		h.sendState(client)

	case "update_script":
		h.ScriptService.UpdateScript(message.Script)

	case "set_voice":
		if err := h.Registry.SetVoice(message.SpeakerID, models.VoiceID(message.Voice)); err != nil {
			client.SendError(err.Error())
		}

	case "preview":
		if err := h.NarrationService.StartPreview(message.SpeakerID); err != nil {
			client.SendError(err.Error())
		}

	case "generate_story":
		taskID, err := h.NarrationService.StartFullStory()
		if err != nil {
			client.SendError(err.Error())
			return
		}
		client.SendMessage(map[string]interface{}{
			"type":    "story_started",
			"task_id": taskID,
		})

	case "clear_error":
		h.Registry.ClearError()

	default:
		client.SendError("unknown message type: " + message.Type)
	}
}

// sendState 向单个客户端发送当前快照
func (h *Handler) sendState(client *WebSocketClient) {
	client.SendMessage(map[string]interface{}{
		"type":    "state",
		"session": h.Registry.Snapshot(),
	})
}
