// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/ScriptVoice/internal/api"
	"github.com/Corphon/ScriptVoice/internal/config"
	"github.com/Corphon/ScriptVoice/internal/di"
	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/services"
	"github.com/Corphon/ScriptVoice/internal/storage"
	"github.com/Corphon/ScriptVoice/internal/tts"
	"github.com/Corphon/ScriptVoice/internal/utils"
)

// httpServer 便于在测试中替换 http.Server
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal

	cleanupOnce sync.Once
	stopJanitor chan struct{}
	stopReport  context.CancelFunc
}

var (
	instance   *App
	instanceMu sync.Mutex
)

// 已完成任务在进度服务中保留的时间
const completedTaskTTL = 10 * time.Minute

// GetApp 获取应用实例（单例）
func GetApp() *App {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 加载配置、初始化日志和服务，并创建HTTP服务器
func Initialize(dataDir string) error {
	if err := config.InitConfig(dataDir); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	app := GetApp()
	app.config = config.GetCurrentConfig()

	if err := initLogger(app.config.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router
	app.server = &http.Server{
		Addr:    ":" + app.config.Port,
		Handler: router,
	}
	return nil
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices() error {
	container := di.GetContainer()
	cfg := config.GetCurrentConfig()

	// 1. 存储
	audioStore, err := storage.NewAudioStore(cfg.DataDir, "/media/")
	if err != nil {
		return fmt.Errorf("创建音频存储失败: %w", err)
	}
	container.Register("audio", audioStore)

	scriptStore, err := newScriptStore(cfg)
	if err != nil {
		return err
	}
	container.Register("script_store", scriptStore)

	// 2. 会话状态
	catalog := models.ParseVoiceCatalog(cfg.VoiceCatalog)
	registry := services.NewSpeakerRegistry(catalog, audioStore)
	container.Register("registry", registry)

	// 3. TTS 后端，配置失败不阻止启动
	ttsService := tts.NewService(cfg.TTSRatePerMinute)
	if err := ttsService.Configure(cfg.TTSProvider, cfg.TTSConfig); err != nil {
		utils.GetLogger().Warn("TTS提供者初始化失败，可在设置中重新配置", map[string]interface{}{
			"provider": cfg.TTSProvider,
			"error":    err.Error(),
		})
	}
	container.Register("tts", ttsService)

	// 4. 剧本服务：加载已保存的剧本并立即解析
	scriptService := services.NewScriptService(scriptStore, registry, cfg.DebounceInterval, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	speakers, err := scriptService.Load(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("加载剧本失败: %w", err)
	}
	utils.GetLogger().Info("剧本已加载", map[string]interface{}{"speakers": len(speakers)})
	container.Register("script", scriptService)

	// 5. 推送中心和合成编排
	hub := api.NewSessionHub()
	go hub.Run(registry.Subscribe())
	container.Register("hub", hub)

	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	narrationService := services.NewNarrationService(registry, ttsService, audioStore, hub, progressService)
	container.Register("narration", narrationService)

	return nil
}

func newScriptStore(cfg *config.AppConfig) (storage.ScriptStore, error) {
	switch cfg.ScriptStore {
	case "sqlite":
		store, err := storage.NewSQLiteScriptStore(filepath.Join(cfg.DataDir, "scriptvoice.db"))
		if err != nil {
			return nil, fmt.Errorf("创建sqlite剧本存储失败: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewFileScriptStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("创建文件剧本存储失败: %w", err)
		}
		return store, nil
	}
}

// Run 启动服务器并等待停止信号
func Run() error {
	app := GetApp()
	if app.server == nil {
		return fmt.Errorf("应用尚未初始化")
	}

	errChan := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	app.startJanitor()

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	select {
	case err := <-errChan:
		app.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	case sig := <-app.stopChan:
		log.Printf("收到信号 %v，正在关闭服务器...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownErr := app.server.Shutdown(ctx)
	app.cleanup()

	if shutdownErr != nil {
		return fmt.Errorf("服务器强制关闭: %w", shutdownErr)
	}
	log.Println("服务器优雅关闭完成")
	return nil
}

// startJanitor 定期清理已结束的进度任务并输出指标摘要
func (a *App) startJanitor() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopReport = cancel
	utils.GetMetricsCollector().StartMetricsReport(ctx, 5*time.Minute)

	progress, ok := di.GetContainer().Get("progress").(*services.ProgressService)
	if !ok {
		return
	}

	a.stopJanitor = make(chan struct{})
	stop := a.stopJanitor
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := progress.CleanupCompletedTasks(completedTaskTTL); n > 0 {
					utils.GetLogger().Debug("清理已结束的进度任务", map[string]interface{}{"count": n})
				}
			}
		}
	}()
}

// cleanup 按与创建相反的顺序释放资源
func (a *App) cleanup() {
	a.cleanupOnce.Do(func() {
		if a.stopJanitor != nil {
			close(a.stopJanitor)
		}
		if a.stopReport != nil {
			a.stopReport()
		}

		container := di.GetContainer()

		// 先提交等待中的编辑
		if scriptService, ok := container.Get("script").(*services.ScriptService); ok {
			scriptService.Close()
		}

		if narrationService, ok := container.Get("narration").(*services.NarrationService); ok {
			narrationService.Close()
		}

		if hub, ok := container.Get("hub").(*api.SessionHub); ok {
			hub.Stop()
		}

		if audioStore, ok := container.Get("audio").(*storage.AudioStore); ok {
			if err := audioStore.ReleaseAll(); err != nil {
				log.Printf("释放音频资源失败: %v", err)
			}
		}

		if store, ok := container.Get("script_store").(storage.ScriptStore); ok {
			if err := store.Close(); err != nil {
				log.Printf("关闭剧本存储失败: %v", err)
			}
		}

		utils.GetLogger().Info("应用资源已释放", nil)
		utils.GetLogger().Close()
	})
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer 获取依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 检查是否为调试模式
func IsDebugMode() bool {
	instanceMu.Lock()
	app := instance
	instanceMu.Unlock()

	if app == nil || app.config == nil {
		return false
	}
	return app.config.DebugMode
}

// initLogger 在日志目录下按日期创建日志文件
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	if err := utils.InitLogger(utils.DailyLogFile(logDir)); err != nil {
		return err
	}
	if IsDebugMode() {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}
	return nil
}
