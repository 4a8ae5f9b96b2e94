package app

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/Corphon/ScriptVoice/internal/config"
	"github.com/Corphon/ScriptVoice/internal/di"
	"github.com/Corphon/ScriptVoice/internal/services"
	"github.com/Corphon/ScriptVoice/internal/storage"
	_ "github.com/Corphon/ScriptVoice/internal/tts/providers/tone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试前的设置工作
func setupTest(t *testing.T) string {
	t.Helper()
	instance = nil
	di.GetContainer().Clear()

	tempDir := t.TempDir()
	t.Chdir(tempDir)
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("SCRIPT_STORE", "file")
	t.Setenv("TTS_PROVIDER", "tone")
	t.Setenv("DEBOUNCE_INTERVAL", "500ms")

	t.Cleanup(func() {
		instance = nil
		di.GetContainer().Clear()
	})
	return tempDir
}

type mockServer struct {
	ShutdownCalled bool
}

func (m *mockServer) ListenAndServe() error {
	return nil
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.ShutdownCalled = true
	return nil
}

func TestGetApp(t *testing.T) {
	instance = nil
	t.Cleanup(func() { instance = nil })

	app1 := GetApp()
	require.NotNil(t, app1)
	assert.Same(t, app1, GetApp())
	assert.NotNil(t, app1.stopChan)
}

func TestInitialize(t *testing.T) {
	tempDir := setupTest(t)

	require.NoError(t, Initialize(filepath.Join(tempDir, "data")))

	app := GetApp()
	require.NotNil(t, app.GetConfig())
	assert.NotNil(t, app.router)
	assert.NotNil(t, app.server)

	assert.FileExists(t, filepath.Join(tempDir, "data", "config.json"))

	files, _ := os.ReadDir(filepath.Join(tempDir, "logs"))
	assert.NotEmpty(t, files, "应该已创建日志文件")

	for _, name := range []string{"audio", "script_store", "registry", "tts", "script", "hub", "progress", "narration"} {
		assert.True(t, di.GetContainer().Has(name), "服务应该已注册: %s", name)
	}

	app.cleanup()
}

func TestInitServicesLoadsSavedScript(t *testing.T) {
	tempDir := setupTest(t)
	dataDir := filepath.Join(tempDir, "data")

	store, err := storage.NewFileScriptStore(dataDir)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "Joe: Hi\nJane: Hello"))

	require.NoError(t, config.InitConfig(dataDir))
	require.NoError(t, InitServices())
	t.Cleanup(GetApp().cleanup)

	registry, ok := di.GetContainer().Get("registry").(*services.SpeakerRegistry)
	require.True(t, ok)

	speakers := registry.Speakers()
	require.Len(t, speakers, 2)
	assert.Equal(t, "Joe", speakers[0].Name)
	assert.Equal(t, "Jane", speakers[1].Name)
}

func TestInitServicesWithSQLiteStore(t *testing.T) {
	tempDir := setupTest(t)
	t.Setenv("SCRIPT_STORE", "sqlite")
	dataDir := filepath.Join(tempDir, "data")

	require.NoError(t, config.InitConfig(dataDir))
	require.NoError(t, InitServices())
	t.Cleanup(GetApp().cleanup)

	_, ok := di.GetContainer().Get("script_store").(*storage.SQLiteScriptStore)
	assert.True(t, ok)
	assert.FileExists(t, filepath.Join(dataDir, "scriptvoice.db"))
}

func TestRun(t *testing.T) {
	setupTest(t)

	testApp := &App{
		config:   &config.AppConfig{Port: "8081"},
		stopChan: make(chan os.Signal, 1),
	}
	instance = testApp

	mockSrv := &mockServer{}
	testApp.server = mockSrv

	go func() {
		time.Sleep(100 * time.Millisecond)
		testApp.stopChan <- syscall.SIGTERM
	}()

	require.NoError(t, Run())
	assert.True(t, mockSrv.ShutdownCalled)
}

func TestRunWithoutServer(t *testing.T) {
	setupTest(t)
	instance = &App{stopChan: make(chan os.Signal, 1)}

	assert.Error(t, Run())
}

func TestCleanupFlushesPendingScript(t *testing.T) {
	tempDir := setupTest(t)
	dataDir := filepath.Join(tempDir, "data")

	require.NoError(t, config.InitConfig(dataDir))
	require.NoError(t, InitServices())

	scriptService := di.GetContainer().Get("script").(*services.ScriptService)
	scriptService.UpdateScript("Alice: pending edit")

	GetApp().cleanup()
	// 重复调用不应出错
	GetApp().cleanup()

	data, err := os.ReadFile(filepath.Join(dataDir, "scripts", "script.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Alice: pending edit", string(data))
}

func TestInitLogger(t *testing.T) {
	tempDir := setupTest(t)
	logDir := filepath.Join(tempDir, "logs")

	require.NoError(t, initLogger(logDir))

	files, _ := os.ReadDir(logDir)
	assert.NotEmpty(t, files)
}

func TestGetDIContainer(t *testing.T) {
	assert.Same(t, di.GetContainer(), GetDIContainer())
}

func TestIsDebugMode(t *testing.T) {
	setupTest(t)

	instance = nil
	assert.False(t, IsDebugMode())

	testApp := &App{}
	instance = testApp
	assert.False(t, IsDebugMode())

	testApp.config = &config.AppConfig{DebugMode: true}
	assert.True(t, IsDebugMode())

	testApp.config.DebugMode = false
	assert.False(t, IsDebugMode())
}
