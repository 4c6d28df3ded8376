// Package config アプリケーション全体の設定を担う
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rinban/internal/camera"
	"rinban/internal/rotation"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Camera   CameraConfig    `yaml:"camera"`
	Rotation rotation.Config `yaml:"rotation"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラバックエンドの設定
type CameraConfig struct {
	Backend string         `yaml:"backend"` // "v4l2" または "mock"
	Devices []CameraDevice `yaml:"devices"` // 個別デバイス（空なら自動検出）

	// キャプチャ解像度
	DefaultWidth  int `yaml:"default_width"`
	DefaultHeight int `yaml:"default_height"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID     string `yaml:"id"`     // カメラID（省略時はデバイスパス）
	Name   string `yaml:"name"`   // 表示名
	Device string `yaml:"device"` // デバイスパス (例: /dev/video0)
}

// Load は設定を読み込む
// デフォルト値 → YAMLファイル（pathが空なら読まない）→ 環境変数の
// 順に上書きする
func Load(path string) (*Config, error) {
	// .envファイルがあれば環境変数として読み込む（なければ無視）
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Backend:       "v4l2",
			DefaultWidth:  1280,
			DefaultHeight: 720,
		},
		Rotation: rotation.DefaultConfig(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	// 環境変数による上書き
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Camera.Backend = getEnvOrDefault("CAMERA_BACKEND", cfg.Camera.Backend)
	cfg.Rotation.Interval = getEnvAsDurationOrDefault("ROTATION_INTERVAL", cfg.Rotation.Interval)
	cfg.Rotation.FailureThreshold = getEnvAsIntOrDefault("ROTATION_FAILURE_THRESHOLD", cfg.Rotation.FailureThreshold)
	cfg.Rotation.CaptureTimeout = getEnvAsDurationOrDefault("ROTATION_CAPTURE_TIMEOUT", cfg.Rotation.CaptureTimeout)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Camera.Backend != "v4l2" && c.Camera.Backend != "mock" {
		return fmt.Errorf("無効なカメラバックエンド: %s", c.Camera.Backend)
	}
	if c.Rotation.Interval <= 0 {
		return fmt.Errorf("無効な巡回間隔: %v", c.Rotation.Interval)
	}
	if c.Rotation.FailureThreshold < 1 {
		return fmt.Errorf("無効な隔離閾値: %d", c.Rotation.FailureThreshold)
	}
	if c.Rotation.CaptureTimeout < 0 {
		return fmt.Errorf("無効なキャプチャタイムアウト: %v", c.Rotation.CaptureTimeout)
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BackendDevices は設定からカメラバックエンド用のデバイス一覧を作る
func (c *Config) BackendDevices() []camera.Device {
	devices := make([]camera.Device, 0, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		id := d.ID
		if id == "" {
			id = d.Device
		}
		name := d.Name
		if name == "" {
			name = d.Device
		}
		devices = append(devices, camera.Device{
			ID:   camera.ID(id),
			Name: name,
			Path: d.Device,
		})
	}
	return devices
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault は環境変数を時間として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
