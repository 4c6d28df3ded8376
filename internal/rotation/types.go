package rotation

import (
	"time"

	"rinban/internal/camera"
)

// Config は巡回キャプチャの設定
type Config struct {
	Interval         time.Duration `yaml:"interval"`          // 既定のキャプチャ間隔
	FailureThreshold int           `yaml:"failure_threshold"` // 隔離までの連続失敗回数
	CaptureTimeout   time.Duration `yaml:"capture_timeout"`   // 1回のキャプチャの上限時間（0で無制限）
}

// DefaultConfig はデフォルトの巡回設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:         2 * time.Second,
		FailureThreshold: 5, // 経験的な値。設定で変更できる
		CaptureTimeout:   10 * time.Second,
	}
}

// CameraState は巡回対象カメラの状態
type CameraState string

const (
	// StateActive はローテーションに含まれている
	StateActive CameraState = "active"
	// StateQuarantined は連続失敗により隔離されている
	StateQuarantined CameraState = "quarantined"
)

// CameraStatus はカメラ1台分の状態
type CameraStatus struct {
	ID    camera.ID   `json:"id"`
	State CameraState `json:"state"`
}

// Status はスケジューラの状態スナップショット
type Status struct {
	Running     bool           `json:"running"`
	Interval    time.Duration  `json:"interval"`
	WorkingSet  []camera.ID    `json:"working_set"`
	Quarantined []camera.ID    `json:"quarantined"`
	Next        camera.ID      `json:"next,omitempty"`
	Cameras     []CameraStatus `json:"cameras"`
	Text        string         `json:"text"` // 例: "2/3 active (Next: cam1)"
}
