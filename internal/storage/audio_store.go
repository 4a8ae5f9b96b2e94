// internal/storage/audio_store.go
package storage

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/Corphon/ScriptVoice/internal/audio"
	"github.com/google/uuid"
)

// AudioStore 将合成结果解码为可播放的 WAV 资源，并管理资源的释放
type AudioStore struct {
	files     *FileStorage
	dir       string
	urlPrefix string
	format    audio.Format

	mu      sync.Mutex
	byName  map[string]string              // 文件名 -> 作用域
	byScope map[string]map[string]struct{} // 作用域 -> 文件名集合
}

// NewAudioStore 在 baseDir/audio 下保存音频，URL 形如 <urlPrefix><uuid>.wav
func NewAudioStore(baseDir, urlPrefix string) (*AudioStore, error) {
	files, err := NewFileStorage(baseDir)
	if err != nil {
		return nil, err
	}
	if urlPrefix == "" {
		urlPrefix = "/media/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	// 清空上次运行遗留的音频
	if err := files.DeleteDir("audio"); err != nil {
		return nil, err
	}
	return &AudioStore{
		files:     files,
		dir:       "audio",
		urlPrefix: urlPrefix,
		format:    audio.DefaultFormat,
		byName:    make(map[string]string),
		byScope:   make(map[string]map[string]struct{}),
	}, nil
}

// Decode 将音频载荷保存为资源并返回其 URL。原始 PCM 会被加上 WAV 头
func (s *AudioStore) Decode(payload []byte, scope string) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("audio store: empty payload")
	}

	data := payload
	if !audio.IsWAV(payload) {
		wav, err := audio.EncodeWAV(payload, s.format)
		if err != nil {
			return "", fmt.Errorf("audio store: %w", err)
		}
		data = wav
	}

	name := uuid.New().String() + ".wav"
	if err := s.files.SaveFile(s.dir, name, data); err != nil {
		return "", fmt.Errorf("audio store: %w", err)
	}

	s.mu.Lock()
	s.byName[name] = scope
	if s.byScope[scope] == nil {
		s.byScope[scope] = make(map[string]struct{})
	}
	s.byScope[scope][name] = struct{}{}
	s.mu.Unlock()

	return s.urlPrefix + name, nil
}

// Resolve 根据 URL 或文件名返回本地文件路径
func (s *AudioStore) Resolve(urlOrName string) (string, error) {
	name := path.Base(urlOrName)

	s.mu.Lock()
	_, ok := s.byName[name]
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("audio store: unknown resource: %s", urlOrName)
	}
	return s.files.FullPath(s.dir, name), nil
}

// Release 删除单个资源，未知资源忽略
func (s *AudioStore) Release(url string) error {
	name := path.Base(url)

	s.mu.Lock()
	scope, ok := s.byName[name]
	if ok {
		delete(s.byName, name)
		if refs := s.byScope[scope]; refs != nil {
			delete(refs, name)
			if len(refs) == 0 {
				delete(s.byScope, scope)
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.files.DeleteFile(s.dir, name)
}

// ReleaseScope 删除某个作用域下的全部资源
func (s *AudioStore) ReleaseScope(scope string) error {
	s.mu.Lock()
	refs := s.byScope[scope]
	delete(s.byScope, scope)
	names := make([]string, 0, len(refs))
	for name := range refs {
		delete(s.byName, name)
		names = append(names, name)
	}
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := s.files.DeleteFile(s.dir, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReleaseAll 会话结束时清理全部资源
func (s *AudioStore) ReleaseAll() error {
	s.mu.Lock()
	scopes := make([]string, 0, len(s.byScope))
	for scope := range s.byScope {
		scopes = append(scopes, scope)
	}
	s.mu.Unlock()

	var firstErr error
	for _, scope := range scopes {
		if err := s.ReleaseScope(scope); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Count 当前持有的资源数
func (s *AudioStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byName)
}
