package rotation

import (
	"sync"

	"rinban/internal/camera"
)

// HealthTracker はカメラ毎の連続失敗回数を記録する
// 永続化はせず、スケジューラの開始・停止・隔離のライフサイクルと共に消える
type HealthTracker struct {
	mu       sync.Mutex
	failures map[camera.ID]int
}

// NewHealthTracker は新しいHealthTrackerを作成する
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		failures: make(map[camera.ID]int),
	}
}

// RecordSuccess は連続失敗カウンタを0に戻す
func (h *HealthTracker) RecordSuccess(id camera.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, id)
}

// RecordFailure は連続失敗カウンタを1増やし、新しい値を返す
// 呼び出し側が隔離閾値と比較する
func (h *HealthTracker) RecordFailure(id camera.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures[id]++
	return h.failures[id]
}

// Failures は現在の連続失敗回数を返す
func (h *HealthTracker) Failures(id camera.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[id]
}

// Remove は指定カメラの記録を破棄する
func (h *HealthTracker) Remove(id camera.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, id)
}

// Reset は全ての記録を破棄する
func (h *HealthTracker) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = make(map[camera.ID]int)
}
