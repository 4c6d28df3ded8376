package camera

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultPreviewInterval はプレビューのフレーム間隔のデフォルト値
const DefaultPreviewInterval = 200 * time.Millisecond

// PreviewSession は単一カメラのライブプレビュー
// セッション中はデバイスを排他保持し続けるため、巡回キャプチャの
// 開始前には必ず停止されなければならない
type PreviewSession struct {
	id       ID
	handle   Handle
	frameCh  chan *Frame
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ID はセッションが保持しているカメラのIDを返す
func (s *PreviewSession) ID() ID {
	return s.id
}

// Frames はプレビューフレームを受け取るチャンネルを返す
// 受信が追いつかない場合は古いフレームから捨てられる
func (s *PreviewSession) Frames() <-chan *Frame {
	return s.frameCh
}

// loop は定期的にフレームをキャプチャして配信する
func (s *PreviewSession) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			frame, err := s.handle.CaptureFrame(ctx)
			if err != nil {
				// プレビューはベストエフォート。失敗はログのみ
				log.Printf("プレビューキャプチャに失敗 (カメラ %s): %v", s.id, err)
				continue
			}

			// 古いフレームを捨ててから最新を入れる
			select {
			case <-s.frameCh:
			default:
			}
			select {
			case s.frameCh <- frame:
			default:
			}
		}
	}
}

// stop はセッションを停止してデバイスを解放する
func (s *PreviewSession) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.handle.Close(); err != nil {
			log.Printf("プレビューカメラ %s のクローズに失敗: %v", s.id, err)
		}
	})
}

// PreviewManager はアドホックなプレビューセッションを管理する
// 排他オープンは系全体で1セッションのみのため、同時に保持するのは1つだけ
type PreviewManager struct {
	backend  Backend
	interval time.Duration

	mu      sync.Mutex
	session *PreviewSession
}

// NewPreviewManager は新しいPreviewManagerを作成する
// intervalが0以下の場合はDefaultPreviewIntervalを使う
func NewPreviewManager(backend Backend, interval time.Duration) *PreviewManager {
	if interval <= 0 {
		interval = DefaultPreviewInterval
	}
	return &PreviewManager{
		backend:  backend,
		interval: interval,
	}
}

// Start は指定カメラのプレビューを開始する
// 既存のセッションがあれば先に停止する
func (m *PreviewManager) Start(ctx context.Context, id ID) (*PreviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.stop()
		m.session = nil
	}

	handle, err := m.backend.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("プレビューの開始に失敗 (カメラ %s): %w", id, err)
	}

	session := &PreviewSession{
		id:      id,
		handle:  handle,
		frameCh: make(chan *Frame, 1),
		stopCh:  make(chan struct{}),
	}
	session.wg.Add(1)
	go session.loop(ctx, m.interval)

	m.session = session
	log.Printf("プレビューを開始しました (カメラ %s)", id)
	return session, nil
}

// Current は動作中のセッションを返す
func (m *PreviewManager) Current() (*PreviewSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, false
	}
	return m.session, true
}

// StopAll は動作中のプレビューセッションを全て停止する
// 巡回キャプチャの開始時に呼ばれ、カメラの排他保持を確実に解放する
func (m *PreviewManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.stop()
		log.Printf("プレビューを停止しました (カメラ %s)", m.session.id)
		m.session = nil
	}
}
