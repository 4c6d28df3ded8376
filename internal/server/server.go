package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rinban/internal/camera"
	"rinban/internal/config"
	"rinban/internal/metrics"
	"rinban/internal/rotation"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     *gin.Engine
	httpServer *http.Server

	scheduler *rotation.Scheduler
	displays  *rotation.DisplayRegistry
	backend   camera.Backend
	previews  *camera.PreviewManager
	metrics   *metrics.Metrics
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, scheduler *rotation.Scheduler, displays *rotation.DisplayRegistry, backend camera.Backend, previews *camera.PreviewManager, met *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config:    cfg,
		engine:    engine,
		scheduler: scheduler,
		displays:  displays,
		backend:   backend,
		previews:  previews,
		metrics:   met,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/cameras", s.handleCameras)

		api.POST("/rotation/start", s.handleRotationStart)
		api.POST("/rotation/stop", s.handleRotationStop)
		api.PUT("/rotation/interval", s.handleRotationInterval)

		api.GET("/displays", s.handleDisplays)
		api.DELETE("/displays/:id", s.handleDisplayClose)
		api.GET("/displays/:id/stream", s.handleDisplayStream)

		api.POST("/preview/start", s.handlePreviewStart)
		api.POST("/preview/stop", s.handlePreviewStop)
		api.GET("/preview/stream", s.handlePreviewStream)
	}

	// Prometheusメトリクス
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Start はサーバーを起動する
// コンテキストのキャンセルまたはシグナル受信で停止する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 巡回キャプチャとプレビューを止めてからHTTPサーバーを閉じる
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	s.scheduler.Stop()
	if s.previews != nil {
		s.previews.StopAll()
	}

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
