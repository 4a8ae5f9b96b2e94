// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/utils"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	id        string
	conn      WebSocketConnection
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(id string, conn WebSocketConnection) *WebSocketClient {
	client := &WebSocketClient{
		id:        id,
		conn:      conn,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// SendMessage 发送消息到客户端，队列满时丢弃
func (client *WebSocketClient) SendMessage(message map[string]interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.send <- msgBytes:
	default:
		utils.GetLogger().Warn("客户端消息队列已满，消息被丢弃", map[string]interface{}{"client": client.id})
	}
	return nil
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(errorMsg string) {
	client.SendMessage(map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// SessionHub 管理会话的所有 WebSocket 连接，将状态快照和播放事件推送给客户端
type SessionHub struct {
	clients     map[*WebSocketClient]bool
	broadcast   chan []byte
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	stop        chan struct{}
	stopped     chan struct{}
	mutex       sync.RWMutex
	pingTimeout time.Duration

	lastVersion uint64 // 已推送的最新快照版本
	stopOnce    sync.Once
}

// NewSessionHub 创建会话推送中心
func NewSessionHub() *SessionHub {
	return &SessionHub{
		clients:     make(map[*WebSocketClient]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *WebSocketClient, 64),
		unregister:  make(chan *WebSocketClient, 64),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		pingTimeout: 90 * time.Second,
	}
}

// Run 运行主循环。updates 为注册表的订阅通道，关闭后不再推送状态
func (hub *SessionHub) Run(updates <-chan models.SessionSnapshot) {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer func() {
		cleanupTicker.Stop()
		hub.shutdown()
		close(hub.stopped)
	}()

	for {
		select {
		case client := <-hub.register:
			hub.registerClient(client)

		case client := <-hub.unregister:
			hub.unregisterClient(client)

		case snapshot, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			hub.publishSnapshot(snapshot)

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)

		case <-cleanupTicker.C:
			hub.cleanupExpiredConnections()

		case <-hub.stop:
			return
		}
	}
}

// Stop 停止主循环并关闭所有连接
func (hub *SessionHub) Stop() {
	hub.stopOnce.Do(func() { close(hub.stop) })
	<-hub.stopped
}

// Play 通知客户端播放预览音频
func (hub *SessionHub) Play(speakerID, url string) {
	hub.Broadcast(map[string]interface{}{
		"type":       "play",
		"speaker_id": speakerID,
		"url":        url,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// Broadcast 向所有客户端广播消息
func (hub *SessionHub) Broadcast(message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		utils.GetLogger().Error("序列化广播消息失败", map[string]interface{}{"error": err.Error()})
		return
	}

	select {
	case hub.broadcast <- msgBytes:
	case <-hub.stop:
	default:
		utils.GetLogger().Warn("广播队列已满，消息被丢弃", nil)
	}
}

// ClientCount 当前连接数
func (hub *SessionHub) ClientCount() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

func (hub *SessionHub) registerClient(client *WebSocketClient) {
	hub.mutex.Lock()
	hub.clients[client] = true
	total := len(hub.clients)
	hub.mutex.Unlock()
	utils.GetMetricsCollector().SetGauge("ws_clients", int64(total))

	utils.GetLogger().Info("WebSocket 客户端已连接", map[string]interface{}{
		"client": client.id,
		"total":  total,
	})
}

func (hub *SessionHub) unregisterClient(client *WebSocketClient) {
	hub.mutex.Lock()
	_, exists := hub.clients[client]
	delete(hub.clients, client)
	total := len(hub.clients)
	hub.mutex.Unlock()
	utils.GetMetricsCollector().SetGauge("ws_clients", int64(total))

	client.Close()
	if exists {
		utils.GetLogger().Info("WebSocket 客户端已断开连接", map[string]interface{}{"client": client.id})
	}
}

// publishSnapshot 推送状态快照，旧版本的快照直接忽略
func (hub *SessionHub) publishSnapshot(snapshot models.SessionSnapshot) {
	if snapshot.Version <= hub.lastVersion {
		return
	}
	hub.lastVersion = snapshot.Version

	msgBytes, err := json.Marshal(map[string]interface{}{
		"type":    "state",
		"session": snapshot,
	})
	if err != nil {
		utils.GetLogger().Error("序列化会话快照失败", map[string]interface{}{"error": err.Error()})
		return
	}
	hub.broadcastMessage(msgBytes)
}

func (hub *SessionHub) broadcastMessage(message []byte) {
	hub.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(hub.clients))
	for client := range hub.clients {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	hub.mutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// 队列满，视为死连接
			client.Close()
		}
	}
}

// cleanupExpiredConnections 清理过期和死连接
func (hub *SessionHub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for client := range hub.clients {
		if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
			delete(hub.clients, client)
			client.Close()
		}
	}
}

func (hub *SessionHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for client := range hub.clients {
		client.Close()
	}
	hub.clients = make(map[*WebSocketClient]bool)
	utils.GetLogger().Info("WebSocket 推送中心已关闭", nil)
}
