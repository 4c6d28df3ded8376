// Package main はRinbanサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"rinban/internal/camera"
	"rinban/internal/config"
	"rinban/internal/metrics"
	"rinban/internal/rotation"
	"rinban/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイルのパス (YAML)")
		backend    = flag.String("backend", "", "カメラバックエンド: v4l2, mock")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Rinban")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *backend != "" {
		cfg.Camera.Backend = *backend
		if err := cfg.Validate(); err != nil {
			log.Fatalf("設定の検証に失敗しました: %v", err)
		}
	}

	// コンポーネントを組み立てる
	var cameraBackend camera.Backend
	switch cfg.Camera.Backend {
	case "mock":
		mock := camera.NewMockBackend()
		for _, d := range cfg.BackendDevices() {
			mock.AddDevice(d.ID)
		}
		cameraBackend = mock
	default:
		cameraBackend = camera.NewV4L2Backend(cfg.BackendDevices(), cfg.Camera.DefaultWidth, cfg.Camera.DefaultHeight)
	}

	met := metrics.New()
	displays := rotation.NewDisplayRegistry()
	scheduler := rotation.NewScheduler(cameraBackend, displays, met, cfg.Rotation)
	previews := camera.NewPreviewManager(cameraBackend, camera.DefaultPreviewInterval)
	scheduler.SetPreviewStopper(previews)

	srv := server.New(cfg, scheduler, displays, cameraBackend, previews, met)

	// コンテキストを作成
	ctx := context.Background()

	// サーバーを起動
	log.Printf("Rinban サーバーを起動します: %s", cfg.ServerAddress())
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
