// internal/tts/service.go
package tts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/utils"
	"golang.org/x/time/rate"
)

// Service 持有当前激活的提供者，对外实现 Provider 的两个合成方法，
// 并在调用前执行速率限制
type Service struct {
	mu           sync.RWMutex
	provider     Provider
	providerName string
	readyState   string
	limiter      *rate.Limiter
}

// NewService 创建服务；ratePerMinute <= 0 表示不限速
func NewService(ratePerMinute int) *Service {
	s := &Service{readyState: "未配置TTS提供者"}
	s.SetRateLimit(ratePerMinute)
	return s
}

// NewServiceWithProvider 直接使用已初始化的提供者
func NewServiceWithProvider(name string, p Provider, ratePerMinute int) *Service {
	s := NewService(ratePerMinute)
	s.provider = p
	s.providerName = name
	s.readyState = "ready"
	return s
}

// SetRateLimit 调整每分钟请求上限
func (s *Service) SetRateLimit(ratePerMinute int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ratePerMinute <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute)
}

// Configure 切换到指定的提供者。失败时保留旧的提供者
func (s *Service) Configure(name string, config map[string]string) error {
	p, err := GetProvider(name, config)
	if err != nil {
		s.mu.Lock()
		if s.provider == nil {
			s.readyState = fmt.Sprintf("初始化失败: %v", err)
		}
		s.mu.Unlock()
		return fmt.Errorf("初始化TTS提供者 %s 失败: %w", name, err)
	}

	s.mu.Lock()
	s.provider = p
	s.providerName = name
	s.readyState = "ready"
	s.mu.Unlock()

	utils.GetLogger().Info("TTS提供者已切换", map[string]interface{}{"provider": name})
	return nil
}

// Status 返回提供者名称、是否就绪和状态描述
func (s *Service) Status() (name string, ready bool, state string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providerName, s.provider != nil, s.readyState
}

func (s *Service) acquire(ctx context.Context) (Provider, string, error) {
	s.mu.RLock()
	p, name, limiter := s.provider, s.providerName, s.limiter
	s.mu.RUnlock()

	if p == nil {
		return nil, "", ErrNotReady
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, name, fmt.Errorf("tts rate limit: %w", err)
	}
	return p, name, nil
}

// SynthesizeSingle 单人合成
func (s *Service) SynthesizeSingle(ctx context.Context, text string, voice models.VoiceID) ([]byte, error) {
	p, name, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := p.SynthesizeSingle(ctx, text, voice)
	utils.GetMetricsCollector().RecordSynthesis("single", name, time.Since(start), err)
	return data, err
}

// SynthesizeMulti 多人合成
func (s *Service) SynthesizeMulti(ctx context.Context, transcript string, voices []models.VoiceAssignment) ([]byte, error) {
	p, name, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := p.SynthesizeMulti(ctx, transcript, voices)
	utils.GetMetricsCollector().RecordSynthesis("multi", name, time.Since(start), err)
	return data, err
}
