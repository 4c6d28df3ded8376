package rotation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"rinban/internal/camera"
	"rinban/internal/metrics"
)

// PreviewStopper は巡回開始前に強制停止すべきアドホックな
// プレビューセッションを表す
type PreviewStopper interface {
	StopAll()
}

// Scheduler は複数カメラの巡回キャプチャを駆動する
//
// ワーキングセットは挿入順のまま巡回され、削除以外で並び替えられる
// ことはない。カーソルは常に「次にキャプチャすべきカメラ」を指し、
// 末尾を越えたら先頭に巻き戻る
type Scheduler struct {
	backend  camera.Backend
	displays *DisplayRegistry
	health   *HealthTracker
	metrics  *metrics.Metrics
	previews PreviewStopper

	cfg Config

	// lifecycleMu はStart/Stopの停止・再始動の手順全体を直列化する
	// sync.Mutexだけでは「止めてから作り直す」2段階の間に別のStartが
	// 割り込めるため、ループが二重に起動してしまう
	lifecycleMu sync.Mutex

	mu          sync.Mutex
	running     bool
	workingSet  []camera.ID
	cursor      int
	interval    time.Duration
	quarantined []camera.ID

	stopCh     chan struct{}
	intervalCh chan time.Duration
	wg         sync.WaitGroup
}

// NewScheduler は新しいSchedulerを作成する
// ユーザーによるサーフェス閉鎖がRemoveCameraへ届くよう、レジストリの
// コールバックをここで配線する。metはnilでもよい
func NewScheduler(backend camera.Backend, displays *DisplayRegistry, met *metrics.Metrics, cfg Config) *Scheduler {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}

	s := &Scheduler{
		backend:  backend,
		displays: displays,
		health:   NewHealthTracker(),
		metrics:  met,
		cfg:      cfg,
	}
	displays.SetUserCloseHandler(s.RemoveCamera)
	return s
}

// SetPreviewStopper は巡回開始時に停止するプレビュー管理を設定する
func (s *Scheduler) SetPreviewStopper(p PreviewStopper) {
	s.previews = p
}

// Start は指定されたカメラ群の巡回キャプチャを開始する
// intervalが0以下の場合は設定の既定値を使う
func (s *Scheduler) Start(ctx context.Context, ids []camera.ID, interval time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	// 冪等性のため、動作中のトリガーを先に止める
	s.halt()

	// 排他オープンは系全体で1セッションのみ
	// アドホックなプレビューがカメラを保持したままだと巡回が
	// 開けないため、必ず先に強制停止する
	if s.previews != nil {
		s.previews.StopAll()
	}

	// 重複を除いた挿入順のワーキングセットを作る
	set := make([]camera.ID, 0, len(ids))
	seen := make(map[camera.ID]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		set = append(set, id)
	}
	if len(set) == 0 {
		return fmt.Errorf("巡回対象のカメラが指定されていません")
	}

	if interval <= 0 {
		interval = s.cfg.Interval
	}

	stopCh := make(chan struct{})
	intervalCh := make(chan time.Duration, 1)

	s.mu.Lock()
	s.workingSet = set
	s.cursor = 0
	s.interval = interval
	s.quarantined = nil
	s.health.Reset()
	for _, id := range set {
		s.displays.Materialize(id)
	}
	s.running = true
	s.stopCh = stopCh
	s.intervalCh = intervalCh
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SetActiveCameras(len(set))

	go s.run(ctx, interval, stopCh, intervalCh)

	log.Printf("巡回キャプチャを開始しました (%d台, 間隔 %v)", len(set), interval)
	return nil
}

// Stop は巡回キャプチャを停止する。どの状態から呼んでも安全
// 残っている全ての表示サーフェスを破棄し、状態をクリアする
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.halt()
}

// halt は停止手順の本体。lifecycleMuを保持した状態で呼ぶこと
func (s *Scheduler) halt() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.teardown()
}

// SetInterval は動作中の巡回間隔を変更する
// 変更は次の周期から有効になる。実行中のtickを中断したり、
// 即時にtickを発火させたりはしない
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("無効な間隔: %v", d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("巡回は動作していません")
	}
	s.interval = d

	// 未処理の古い値が残っていれば捨て、最新の間隔だけを届ける
	select {
	case <-s.intervalCh:
	default:
	}
	s.intervalCh <- d

	log.Printf("巡回間隔を %v に変更しました", d)
	return nil
}

// RemoveCamera はカメラをワーキングセットから取り除く
// ユーザーがサーフェスを閉じた時に呼ばれる。tick中の隔離とは
// 別のゴルーチンから呼ばれても巡回の不変条件を壊さない
func (s *Scheduler) RemoveCamera(id camera.ID) {
	s.mu.Lock()

	// 隔離済みリストからも取り除く（無効サーフェスを閉じた場合）
	for i, q := range s.quarantined {
		if q == id {
			s.quarantined = append(s.quarantined[:i], s.quarantined[i+1:]...)
			break
		}
	}

	idx := indexOf(s.workingSet, id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	s.removeLocked(idx)
	s.health.Remove(id)
	empty := len(s.workingSet) == 0
	remaining := len(s.workingSet)
	s.mu.Unlock()

	s.metrics.SetActiveCameras(remaining)
	log.Printf("カメラ %s を巡回から除外しました", id)

	if empty {
		// 最後の1台が閉じられたら巡回全体を停止する
		s.Stop()
	}
}

// Snapshot は現在の状態を返す
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:     s.running,
		Interval:    s.interval,
		WorkingSet:  append([]camera.ID(nil), s.workingSet...),
		Quarantined: append([]camera.ID(nil), s.quarantined...),
	}
	for _, id := range s.workingSet {
		st.Cameras = append(st.Cameras, CameraStatus{ID: id, State: StateActive})
	}
	for _, id := range s.quarantined {
		st.Cameras = append(st.Cameras, CameraStatus{ID: id, State: StateQuarantined})
	}

	if s.running && len(s.workingSet) > 0 {
		st.Next = s.workingSet[s.cursor]
		total := len(s.workingSet) + len(s.quarantined)
		st.Text = fmt.Sprintf("%d/%d active (Next: %s)", len(s.workingSet), total, st.Next)
	} else {
		st.Text = "no camera active"
	}
	return st
}

// run は巡回ループ本体
// tickはこのゴルーチン内で直列に実行されるため、同時に複数のtickが
// 走ることはない。チャンネルは引数で受け取り、再始動時のフィールドの
// 付け替えと競合しないようにする
func (s *Scheduler) run(ctx context.Context, interval time.Duration, stopCh <-chan struct{}, intervalCh <-chan time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			// トリガーの継続が保証できないため巡回全体を停止する
			log.Printf("コンテキストがキャンセルされました。巡回を停止します")
			s.stopFromLoop()
			return
		case d := <-intervalCh:
			// 新しい周期でトリガーを再始動する。即時のtickは発火しない
			ticker.Reset(d)
		case <-ticker.C:
			s.metrics.IncTicks()
			if !s.captureNext(ctx) {
				log.Printf("巡回対象がなくなったため停止します")
				s.stopFromLoop()
				return
			}
		}
	}
}

// stopFromLoop はループ自身からの停止処理
// Stopと違い、自分自身のwg.Waitは行わない
func (s *Scheduler) stopFromLoop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.teardown()
}

// teardown は停止後の状態を片付ける
// 残っている全サーフェス（隔離済みを含む）を破棄する。何度呼んでも安全
func (s *Scheduler) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workingSet = nil
	s.cursor = 0
	s.quarantined = nil
	s.health.Reset()

	if n := s.displays.DestroyAll(); n > 0 {
		log.Printf("%d個の表示サーフェスを破棄しました", n)
	}
	s.metrics.SetActiveCameras(0)
}

// captureNext はカーソル位置のカメラを1台だけキャプチャする
// 巡回を継続すべき場合にtrueを返す
func (s *Scheduler) captureNext(ctx context.Context) bool {
	s.mu.Lock()
	if !s.running || len(s.workingSet) == 0 {
		s.mu.Unlock()
		return false
	}
	id := s.workingSet[s.cursor]
	timeout := s.cfg.CaptureTimeout
	s.mu.Unlock()

	// ハードウェアI/Oはロックの外で行う
	frame, err := s.captureOne(ctx, id, timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	idx := indexOf(s.workingSet, id)
	if idx < 0 {
		// キャプチャ中にユーザーがこのカメラを閉じた場合
		// カーソルは除去時に調整済みなのでそのまま続行する
		return len(s.workingSet) > 0
	}

	if err == nil {
		s.displays.Update(id, frame)
		s.health.RecordSuccess(id)
		s.metrics.IncCaptures()
		s.cursor = (idx + 1) % len(s.workingSet)
		return true
	}

	log.Printf("カメラ %s のキャプチャに失敗: %v", id, err)
	s.displays.MarkError(id)
	s.metrics.IncCaptureFailures()

	if count := s.health.RecordFailure(id); count >= s.cfg.FailureThreshold {
		// 連続失敗が閾値に達したため隔離する
		// サーフェスは破棄せず、無効表示のまま残す
		s.removeLocked(idx)
		s.quarantined = append(s.quarantined, id)
		s.health.Remove(id)
		s.displays.MarkDisabled(id)
		s.metrics.IncQuarantines()
		s.metrics.SetActiveCameras(len(s.workingSet))
		log.Printf("カメラ %s を隔離しました (連続失敗 %d回)", id, count)
		return len(s.workingSet) > 0
	}

	s.cursor = (idx + 1) % len(s.workingSet)
	return true
}

// captureOne はopen→capture→closeの3段階を1回実行する
// closeは失敗経路を含む全ての経路で必ず実行され、デバイスの保持が
// 漏れることはない
func (s *Scheduler) captureOne(ctx context.Context, id camera.ID, timeout time.Duration) (*camera.Frame, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	handle, err := s.backend.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("オープンに失敗: %w", err)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			log.Printf("カメラ %s のクローズに失敗: %v", id, cerr)
		}
	}()

	frame, err := handle.CaptureFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("キャプチャに失敗: %w", err)
	}
	return frame, nil
}

// removeLocked はworkingSet[idx]を取り除き、カーソルを調整する
// 取り除いたのがカーソル位置のカメラなら、カーソルは数値をそのまま
// 維持して「次のカメラ」を指し続ける（範囲外になったら先頭に巻き戻す）
func (s *Scheduler) removeLocked(idx int) {
	s.workingSet = append(s.workingSet[:idx], s.workingSet[idx+1:]...)
	if idx < s.cursor {
		s.cursor--
	}
	if s.cursor >= len(s.workingSet) {
		s.cursor = 0
	}
}

// indexOf はワーキングセット内のカメラ位置を返す。見つからなければ-1
func indexOf(set []camera.ID, id camera.ID) int {
	for i, v := range set {
		if v == id {
			return i
		}
	}
	return -1
}
