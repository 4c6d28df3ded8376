package main

import (
	"context"
	"log"

	"rinban/internal/camera"
	"rinban/internal/config"
	"rinban/internal/metrics"
	"rinban/internal/rotation"
	"rinban/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コンポーネントを組み立ててサーバーを作成
	srv := buildServer(cfg)

	// コンテキストを作成
	ctx := context.Background()

	// サーバーを起動
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}

// buildServer は設定から各コンポーネントを組み立てる
func buildServer(cfg *config.Config) *server.Server {
	var backend camera.Backend
	switch cfg.Camera.Backend {
	case "mock":
		mock := camera.NewMockBackend()
		for _, d := range cfg.BackendDevices() {
			mock.AddDevice(d.ID)
		}
		backend = mock
	default:
		backend = camera.NewV4L2Backend(cfg.BackendDevices(), cfg.Camera.DefaultWidth, cfg.Camera.DefaultHeight)
	}

	met := metrics.New()
	displays := rotation.NewDisplayRegistry()
	scheduler := rotation.NewScheduler(backend, displays, met, cfg.Rotation)
	previews := camera.NewPreviewManager(backend, camera.DefaultPreviewInterval)
	scheduler.SetPreviewStopper(previews)

	return server.New(cfg, scheduler, displays, backend, previews, met)
}
