package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"rinban/internal/camera"
	"rinban/internal/config"
	"rinban/internal/metrics"
	"rinban/internal/rotation"
)

// newTestServer はモックバックエンドで構成したサーバーを起動する
// 停止はt.Cleanupで行う
func newTestServer(t *testing.T, port int) (*Server, string) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:        "127.0.0.1",
			Port:        port,
			ReadTimeout: 10 * time.Second,
		},
		Camera: config.CameraConfig{
			Backend:       "mock",
			DefaultWidth:  640,
			DefaultHeight: 480,
		},
		Rotation: rotation.DefaultConfig(),
	}

	backend := camera.NewMockBackend("camA", "camB")
	met := metrics.New()
	displays := rotation.NewDisplayRegistry()
	scheduler := rotation.NewScheduler(backend, displays, met, cfg.Rotation)
	previews := camera.NewPreviewManager(backend, camera.DefaultPreviewInterval)
	scheduler.SetPreviewStopper(previews)

	srv := New(cfg, scheduler, displays, backend, previews, met)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(10 * time.Second):
			t.Error("Server did not shut down in time")
		}
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitForServer(t, base)
	return srv, base
}

// waitForServer はヘルスチェックが通るまで待つ
func waitForServer(t *testing.T, base string) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Server did not become ready")
}

// doJSON はJSONボディ付きのリクエストを送る
func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

// decodeJSON はレスポンスボディをデコードして閉じる
func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestServer_Endpoints(t *testing.T) {
	_, base := newTestServer(t, 18081)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health check", http.MethodGet, "/health", http.StatusOK},
		{"status", http.MethodGet, "/api/status", http.StatusOK},
		{"camera list", http.MethodGet, "/api/cameras", http.StatusOK},
		{"display list", http.MethodGet, "/api/displays", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"close absent display", http.MethodDelete, "/api/displays/unknown", http.StatusNotFound},
		{"preview stream without session", http.MethodGet, "/api/preview/stream", http.StatusNotFound},
		{"not found", http.MethodGet, "/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, base+tt.path, nil)
			_ = resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestServer_CameraList(t *testing.T) {
	_, base := newTestServer(t, 18082)

	resp := doJSON(t, http.MethodGet, base+"/api/cameras", nil)
	var cameras []CameraInfo
	decodeJSON(t, resp, &cameras)

	if len(cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cameras))
	}
	for _, c := range cameras {
		if c.State != "idle" {
			t.Errorf("Expected idle state before rotation, got %s", c.State)
		}
	}
}

func TestServer_RotationLifecycle(t *testing.T) {
	_, base := newTestServer(t, 18083)

	// 巡回を開始する
	resp := doJSON(t, http.MethodPost, base+"/api/rotation/start", StartRotationRequest{
		CameraIDs: []string{"camA", "camB"},
		Interval:  "50ms",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on start, got %d", resp.StatusCode)
	}
	var status StatusResponse
	decodeJSON(t, resp, &status)
	if !status.Running {
		t.Error("Expected rotation running")
	}
	if len(status.WorkingSet) != 2 {
		t.Errorf("Expected working set of 2, got %v", status.WorkingSet)
	}

	// サーフェスが実体化されている
	resp = doJSON(t, http.MethodGet, base+"/api/displays", nil)
	var displays []rotation.DisplayRecord
	decodeJSON(t, resp, &displays)
	if len(displays) != 2 {
		t.Errorf("Expected 2 surfaces, got %d", len(displays))
	}

	// 巡回中はプレビューを開始できない
	resp = doJSON(t, http.MethodPost, base+"/api/preview/start", PreviewRequest{CameraID: "camA"})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for preview during rotation, got %d", resp.StatusCode)
	}

	// 間隔を変更する
	resp = doJSON(t, http.MethodPut, base+"/api/rotation/interval", IntervalRequest{Interval: "100ms"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on interval change, got %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &status)
	if status.Interval != "100ms" {
		t.Errorf("Expected interval 100ms, got %s", status.Interval)
	}

	// 巡回を停止する
	resp = doJSON(t, http.MethodPost, base+"/api/rotation/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on stop, got %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &status)
	if status.Running {
		t.Error("Expected rotation stopped")
	}

	// 停止後は全サーフェスが破棄されている
	resp = doJSON(t, http.MethodGet, base+"/api/displays", nil)
	decodeJSON(t, resp, &displays)
	if len(displays) != 0 {
		t.Errorf("Expected no surfaces after stop, got %d", len(displays))
	}

	// 停止中の間隔変更は409
	resp = doJSON(t, http.MethodPut, base+"/api/rotation/interval", IntervalRequest{Interval: "1s"})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 when stopped, got %d", resp.StatusCode)
	}
}

func TestServer_RotationStartValidation(t *testing.T) {
	_, base := newTestServer(t, 18084)

	tests := []struct {
		name string
		body any
	}{
		{"missing camera_ids", map[string]string{"interval": "1s"}},
		{"empty camera_ids", StartRotationRequest{CameraIDs: []string{""}}},
		{"invalid interval", StartRotationRequest{CameraIDs: []string{"camA"}, Interval: "fast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, base+"/api/rotation/start", tt.body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestServer_PreviewLifecycle(t *testing.T) {
	_, base := newTestServer(t, 18085)

	resp := doJSON(t, http.MethodPost, base+"/api/preview/start", PreviewRequest{CameraID: "camA"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on preview start, got %d", resp.StatusCode)
	}
	var started map[string]string
	decodeJSON(t, resp, &started)
	if started["camera_id"] != "camA" {
		t.Errorf("Expected camera_id camA, got %v", started)
	}

	// 不明なカメラは400
	resp = doJSON(t, http.MethodPost, base+"/api/preview/start", PreviewRequest{CameraID: "unknown"})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown camera, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, base+"/api/preview/stop", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 on preview stop, got %d", resp.StatusCode)
	}

	// 停止後のストリーム取得は404
	resp = doJSON(t, http.MethodGet, base+"/api/preview/stream", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after preview stop, got %d", resp.StatusCode)
	}
}

func TestServer_MetricsExposition(t *testing.T) {
	_, base := newTestServer(t, 18086)

	resp := doJSON(t, http.MethodGet, base+"/metrics", nil)
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	if !strings.Contains(string(data), "rinban_") {
		t.Error("Expected rinban_ metrics in exposition")
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 18087},
		Camera:   config.CameraConfig{Backend: "mock"},
		Rotation: rotation.DefaultConfig(),
	}

	backend := camera.NewMockBackend("camA")
	displays := rotation.NewDisplayRegistry()
	scheduler := rotation.NewScheduler(backend, displays, nil, cfg.Rotation)
	previews := camera.NewPreviewManager(backend, camera.DefaultPreviewInterval)
	scheduler.SetPreviewStopper(previews)
	srv := New(cfg, scheduler, displays, backend, previews, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()
	waitForServer(t, "http://127.0.0.1:18087")

	// 巡回を動かしたままシャットダウンする
	if err := scheduler.Start(context.Background(), []camera.ID{"camA"}, 10*time.Millisecond); err != nil {
		t.Fatalf("Rotation start failed: %v", err)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Server did not shut down in time")
	}

	// シャットダウン時に巡回も止まる
	if scheduler.Snapshot().Running {
		t.Error("Expected rotation stopped by shutdown")
	}
	if displays.Len() != 0 {
		t.Errorf("Expected all surfaces destroyed, %d remain", displays.Len())
	}
}
