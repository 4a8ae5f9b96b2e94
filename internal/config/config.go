// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corphon/ScriptVoice/internal/utils"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
	configSecret  string // 非空时 config.json 中的 api_key 加密保存
)

// AppConfig 包含应用程序的所有配置（会被保存到 config.json）
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// 剧本解析相关
	VoiceCatalog     string        `json:"voice_catalog"`
	DebounceInterval time.Duration `json:"debounce_interval"`
	ScriptStore      string        `json:"script_store"`

	// TTS相关配置
	TTSProvider      string            `json:"tts_provider"`
	TTSConfig        map[string]string `json:"tts_config"`
	TTSRatePerMinute int               `json:"tts_rate_per_minute"`
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port             string        `env:"PORT" envDefault:"8080"`
	DataDir          string        `env:"DATA_DIR" envDefault:"data"`
	LogDir           string        `env:"LOG_DIR" envDefault:"logs"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	DebugMode        bool          `env:"DEBUG_MODE" envDefault:"true"`
	TTSProvider      string        `env:"TTS_PROVIDER" envDefault:"genai"`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY"`
	TTSModel         string        `env:"TTS_MODEL" envDefault:"gemini-2.5-flash-preview-tts"`
	TTSBaseURL       string        `env:"TTS_BASE_URL"`
	TTSRatePerMinute int           `env:"TTS_RATE_PER_MINUTE" envDefault:"30"`
	VoiceCatalog     string        `env:"VOICE_CATALOG"`
	DebounceInterval time.Duration `env:"DEBOUNCE_INTERVAL" envDefault:"500ms"`
	ScriptStore      string        `env:"SCRIPT_STORE" envDefault:"file"`
	ConfigSecret     string        `env:"CONFIG_SECRET"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if config.DebounceInterval <= 0 {
		return nil, fmt.Errorf("DEBOUNCE_INTERVAL 必须为正数: %s", config.DebounceInterval)
	}
	if config.ScriptStore != "file" && config.ScriptStore != "sqlite" {
		return nil, fmt.Errorf("不支持的 SCRIPT_STORE: %s", config.ScriptStore)
	}

	// 只记录警告，不返回错误
	if config.GeminiAPIKey == "" && config.TTSProvider != "tone" {
		log.Println("警告: 未设置 GEMINI_API_KEY，需要在设置接口中配置后才能生成语音")
	}

	return config, nil
}

// TTSConfigMap 生成 TTS 提供者的初始化参数
func (c *Config) TTSConfigMap() map[string]string {
	m := map[string]string{
		"api_key": c.GeminiAPIKey,
		"model":   c.TTSModel,
	}
	if c.TTSBaseURL != "" {
		m["base_url"] = c.TTSBaseURL
	}
	return m
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	configSecret = baseConfig.ConfigSecret
	currentConfig = &AppConfig{
		Port:             baseConfig.Port,
		DataDir:          baseConfig.DataDir,
		LogDir:           baseConfig.LogDir,
		DebugMode:        baseConfig.DebugMode,
		VoiceCatalog:     baseConfig.VoiceCatalog,
		DebounceInterval: baseConfig.DebounceInterval,
		ScriptStore:      baseConfig.ScriptStore,
		TTSProvider:      baseConfig.TTSProvider,
		TTSConfig:        baseConfig.TTSConfigMap(),
		TTSRatePerMinute: baseConfig.TTSRatePerMinute,
	}

	// 尝试从文件加载已保存的配置
	if data, err := os.ReadFile(configFile); err == nil {
		var savedConfig AppConfig
		if json.Unmarshal(data, &savedConfig) == nil && savedConfig.TTSProvider != "" {
			// 保留文件中的TTS设置，基础配置以环境变量为准
			currentConfig.TTSProvider = savedConfig.TTSProvider
			if savedConfig.TTSConfig != nil {
				key, err := utils.OpenValue(savedConfig.TTSConfig["api_key"], configSecret)
				if err != nil {
					log.Printf("警告: 无法解密已保存的 api_key，改用环境变量: %v", err)
					key = ""
				}
				savedConfig.TTSConfig["api_key"] = key
				if key == "" {
					savedConfig.TTSConfig["api_key"] = baseConfig.GeminiAPIKey
				}
				currentConfig.TTSConfig = savedConfig.TTSConfig
			}
		}
	}

	return saveConfigLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: "8080", DataDir: "data", LogDir: "logs", TTSProvider: "genai",
				DebounceInterval: 500 * time.Millisecond, ScriptStore: "file", TTSRatePerMinute: 30}
		}
		return &AppConfig{
			Port:             baseConfig.Port,
			DataDir:          baseConfig.DataDir,
			LogDir:           baseConfig.LogDir,
			DebugMode:        baseConfig.DebugMode,
			VoiceCatalog:     baseConfig.VoiceCatalog,
			DebounceInterval: baseConfig.DebounceInterval,
			ScriptStore:      baseConfig.ScriptStore,
			TTSProvider:      baseConfig.TTSProvider,
			TTSConfig:        baseConfig.TTSConfigMap(),
			TTSRatePerMinute: baseConfig.TTSRatePerMinute,
		}
	}

	configCopy := *currentConfig
	configCopy.TTSConfig = make(map[string]string, len(currentConfig.TTSConfig))
	for k, v := range currentConfig.TTSConfig {
		configCopy.TTSConfig[k] = v
	}
	return &configCopy
}

// UpdateTTSConfig 更新TTS配置
func UpdateTTSConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.TTSProvider = provider
	currentConfig.TTSConfig = config

	return saveConfigLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	onDisk := *currentConfig
	onDisk.TTSConfig = make(map[string]string, len(currentConfig.TTSConfig))
	for k, v := range currentConfig.TTSConfig {
		onDisk.TTSConfig[k] = v
	}
	if key := onDisk.TTSConfig["api_key"]; key != "" {
		sealed, err := utils.SealValue(key, configSecret)
		if err != nil {
			return fmt.Errorf("加密 api_key 失败: %w", err)
		}
		onDisk.TTSConfig["api_key"] = sealed
	}

	data, err := json.MarshalIndent(&onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0600)
}
