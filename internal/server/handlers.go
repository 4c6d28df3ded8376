package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rinban/internal/camera"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Running     bool      `json:"running"`
	StatusText  string    `json:"status_text"`
	Interval    string    `json:"interval"`
	Next        string    `json:"next,omitempty"`
	WorkingSet  []string  `json:"working_set"`
	Quarantined []string  `json:"quarantined"`
	Timestamp   time.Time `json:"timestamp"`
}

// CameraInfo はカメラ一覧のエントリ
type CameraInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Device string `json:"device"`
	State  string `json:"state"` // "active" / "quarantined" / "idle"
}

// StartRotationRequest は巡回開始のリクエスト
type StartRotationRequest struct {
	CameraIDs []string `json:"camera_ids" binding:"required"`
	Interval  string   `json:"interval"` // 例: "2s"。省略時は設定の既定値
}

// IntervalRequest は間隔変更のリクエスト
type IntervalRequest struct {
	Interval string `json:"interval" binding:"required"`
}

// PreviewRequest はプレビュー開始のリクエスト
type PreviewRequest struct {
	CameraID string `json:"camera_id" binding:"required"`
}

// ErrorResponse はエラーのレスポンス
type ErrorResponse struct {
	Error string `json:"error"`
}

// wsUpgrader はWebSocketへのアップグレード設定
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleHealth はヘルスチェックエンドポイントの実装
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus は巡回状態取得エンドポイントの実装
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusPayload())
}

// handleCameras はカメラ一覧取得エンドポイントの実装
func (s *Server) handleCameras(c *gin.Context) {
	devices, err := s.backend.ListCameras(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	// 巡回状態からカメラ毎のフラグを引く
	snapshot := s.scheduler.Snapshot()
	states := make(map[camera.ID]string)
	for _, cs := range snapshot.Cameras {
		states[cs.ID] = string(cs.State)
	}

	cameras := make([]CameraInfo, 0, len(devices))
	for _, d := range devices {
		state, ok := states[d.ID]
		if !ok {
			state = "idle"
		}
		cameras = append(cameras, CameraInfo{
			ID:     string(d.ID),
			Name:   d.Name,
			Device: d.Path,
			State:  state,
		})
	}

	c.JSON(http.StatusOK, cameras)
}

// handleRotationStart は巡回開始エンドポイントの実装
func (s *Server) handleRotationStart(c *gin.Context) {
	var req StartRotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	var interval time.Duration
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "無効な間隔: " + req.Interval})
			return
		}
		interval = d
	}

	ids := make([]camera.ID, 0, len(req.CameraIDs))
	for _, id := range req.CameraIDs {
		ids = append(ids, camera.ID(id))
	}

	// 巡回はリクエストより長く生きるため、リクエストのコンテキストは使わない
	if err := s.scheduler.Start(context.Background(), ids, interval); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.statusPayload())
}

// handleRotationStop は巡回停止エンドポイントの実装
func (s *Server) handleRotationStop(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, s.statusPayload())
}

// handleRotationInterval は巡回間隔変更エンドポイントの実装
func (s *Server) handleRotationInterval(c *gin.Context) {
	var req IntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "無効な間隔: " + req.Interval})
		return
	}

	if err := s.scheduler.SetInterval(d); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.statusPayload())
}

// handleDisplays は表示サーフェス一覧取得エンドポイントの実装
func (s *Server) handleDisplays(c *gin.Context) {
	c.JSON(http.StatusOK, s.displays.List())
}

// handleDisplayClose はユーザーによるサーフェス閉鎖の実装
// サーフェスを破棄し、対象カメラを巡回から除外する
func (s *Server) handleDisplayClose(c *gin.Context) {
	id := camera.ID(c.Param("id"))

	if !s.displays.UserClose(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "サーフェスが見つかりません: " + string(id)})
		return
	}

	c.JSON(http.StatusOK, s.statusPayload())
}

// handleDisplayStream は表示サーフェスのWebSocketフレーム配信の実装
func (s *Server) handleDisplayStream(c *gin.Context) {
	id := camera.ID(c.Param("id"))

	subID, frames, ok := s.displays.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "サーフェスが見つかりません: " + string(id)})
		return
	}
	defer s.displays.Unsubscribe(id, subID)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocketアップグレードに失敗: %v", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// 直近のフレームがあれば最初に送る
	if frame, ok := s.displays.LastFrame(id); ok {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
			return
		}
	}

	// クライアント切断の検出用に読み取りゴルーチンを起動
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// サーフェスが破棄された
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handlePreviewStart はプレビュー開始エンドポイントの実装
func (s *Server) handlePreviewStart(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	// 巡回キャプチャの動作中はカメラの排他保持が競合するため拒否する
	if s.scheduler.Snapshot().Running {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "巡回キャプチャの動作中はプレビューを開始できません"})
		return
	}

	// プレビューもリクエストより長く生きる
	session, err := s.previews.Start(context.Background(), camera.ID(req.CameraID))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"camera_id": string(session.ID())})
}

// handlePreviewStop はプレビュー停止エンドポイントの実装
func (s *Server) handlePreviewStop(c *gin.Context) {
	s.previews.StopAll()
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// handlePreviewStream はプレビューのWebSocketフレーム配信の実装
func (s *Server) handlePreviewStream(c *gin.Context) {
	session, ok := s.previews.Current()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "プレビューは動作していません"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocketアップグレードに失敗: %v", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// セッション停止後はフレームが来なくなるため、定期的に確認して抜ける
	check := time.NewTicker(time.Second)
	defer check.Stop()

	for {
		select {
		case frame := <-session.Frames():
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
				return
			}
		case <-check.C:
			if current, ok := s.previews.Current(); !ok || current != session {
				return
			}
		case <-done:
			return
		}
	}
}

// statusPayload は操作系エンドポイント共通のレスポンスを作る
func (s *Server) statusPayload() StatusResponse {
	snapshot := s.scheduler.Snapshot()
	return StatusResponse{
		Running:     snapshot.Running,
		StatusText:  snapshot.Text,
		Interval:    snapshot.Interval.String(),
		Next:        string(snapshot.Next),
		WorkingSet:  idsToStrings(snapshot.WorkingSet),
		Quarantined: idsToStrings(snapshot.Quarantined),
		Timestamp:   time.Now(),
	}
}

// idsToStrings はカメラIDのスライスを文字列に変換する
func idsToStrings(ids []camera.ID) []string {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		result = append(result, string(id))
	}
	return result
}
