// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteScriptStore 将剧本保存在 sqlite 的键值表中
type SQLiteScriptStore struct {
	db *sql.DB
}

// NewSQLiteScriptStore 打开（或创建）数据库文件
func NewSQLiteScriptStore(dbPath string) (*SQLiteScriptStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 单写者，避免 database is locked
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据表失败: %w", err)
	}
	return &SQLiteScriptStore{db: db}, nil
}

// Load 读取剧本
func (s *SQLiteScriptStore) Load(ctx context.Context) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, ScriptKey).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("加载剧本失败: %w", err)
	}
	return text, nil
}

// Save 覆盖保存剧本
func (s *SQLiteScriptStore) Save(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		ScriptKey, text)
	if err != nil {
		return fmt.Errorf("保存剧本失败: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *SQLiteScriptStore) Close() error {
	return s.db.Close()
}
