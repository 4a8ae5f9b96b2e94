// internal/tts/interface.go
package tts

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Corphon/ScriptVoice/internal/models"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("未知的TTS提供者")
	ErrNotReady        = errors.New("tts service not ready")
)

// Provider 定义所有语音合成后端必须实现的接口。
// 返回 nil 或空切片表示请求成功但没有音频数据
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 单人合成
	SynthesizeSingle(ctx context.Context, text string, voice models.VoiceID) ([]byte, error)

	// 多人合成，voices 按说话人顺序给出
	SynthesizeMulti(ctx context.Context, transcript string, voices []models.VoiceAssignment) ([]byte, error)
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

var (
	providers   = make(map[string]ProviderFactory)
	providersMu sync.RWMutex
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()

	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称（已排序）
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
