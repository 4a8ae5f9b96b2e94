// internal/storage/script_store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ScriptKey 剧本文本在持久化存储中的唯一键
const ScriptKey = "script"

// ScriptStore 剧本文本的持久化契约：启动时读取一次，每次防抖窗口结束时覆盖
type ScriptStore interface {
	// Load 返回已保存的文本，未保存过时返回空字符串
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, text string) error
	Close() error
}

// FileScriptStore 以单个文本文件保存剧本
type FileScriptStore struct {
	files *FileStorage
	dir   string
}

// NewFileScriptStore 在 baseDir/scripts 下保存剧本
func NewFileScriptStore(baseDir string) (*FileScriptStore, error) {
	files, err := NewFileStorage(baseDir)
	if err != nil {
		return nil, err
	}
	return &FileScriptStore{files: files, dir: "scripts"}, nil
}

func (s *FileScriptStore) filename() string {
	return ScriptKey + ".txt"
}

// Load 读取剧本
func (s *FileScriptStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := s.files.LoadFile(s.dir, s.filename())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("加载剧本失败: %w", err)
	}
	return string(data), nil
}

// Save 覆盖保存剧本
func (s *FileScriptStore) Save(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.files.SaveFile(s.dir, s.filename(), []byte(text)); err != nil {
		return fmt.Errorf("保存剧本失败: %w", err)
	}
	return nil
}

// Close 文件存储无需释放资源
func (s *FileScriptStore) Close() error {
	return nil
}
