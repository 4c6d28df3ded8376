package rotation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rinban/internal/camera"
)

// SurfaceState は表示サーフェスの視覚状態
type SurfaceState string

const (
	// SurfaceLive は通常表示（最新フレームあり）
	SurfaceLive SurfaceState = "live"
	// SurfaceError は直近のキャプチャが失敗している
	SurfaceError SurfaceState = "error"
	// SurfaceDisabled は隔離により無効化されている
	SurfaceDisabled SurfaceState = "disabled"
)

// subscriberBuffer は購読チャンネルのバッファサイズ
const subscriberBuffer = 4

// DisplayRecord はカメラ1台分の表示サーフェス情報
type DisplayRecord struct {
	SurfaceID  string       `json:"surface_id"`
	CameraID   camera.ID    `json:"camera_id"`
	State      SurfaceState `json:"state"`
	LastUpdate time.Time    `json:"last_update"`
	HasFrame   bool         `json:"has_frame"`
}

// surfaceRecord はレジストリ内部の可変状態
type surfaceRecord struct {
	surfaceID   string
	state       SurfaceState
	lastFrame   *camera.Frame
	lastUpdate  time.Time
	subscribers map[string]chan *camera.Frame
}

// DisplayRegistry はカメラIDから表示サーフェスへの対応を管理する
// フレームの送り先でしかなく、スケジューリングのロジックは持たない
type DisplayRegistry struct {
	mu          sync.RWMutex
	records     map[camera.ID]*surfaceRecord
	onUserClose func(camera.ID)
}

// NewDisplayRegistry は新しいDisplayRegistryを作成する
func NewDisplayRegistry() *DisplayRegistry {
	return &DisplayRegistry{
		records: make(map[camera.ID]*surfaceRecord),
	}
}

// SetUserCloseHandler はユーザーがサーフェスを閉じた時の通知先を設定する
// コールバックはレジストリのロックを持たない状態で呼ばれる
func (r *DisplayRegistry) SetUserCloseHandler(fn func(camera.ID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUserClose = fn
}

// Materialize は指定カメラのサーフェスを作成する
// 既に存在する場合は何もしない
func (r *DisplayRegistry) Materialize(id camera.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		return
	}
	r.records[id] = &surfaceRecord{
		surfaceID:   uuid.New().String(),
		state:       SurfaceLive,
		subscribers: make(map[string]chan *camera.Frame),
	}
}

// Update はサーフェスに新しいフレームを反映する
// サーフェスが存在しない場合、または無効化済みの場合は何もしない（防御的）
func (r *DisplayRegistry) Update(id camera.ID, frame *camera.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists || rec.state == SurfaceDisabled {
		return
	}

	rec.state = SurfaceLive
	rec.lastFrame = frame
	rec.lastUpdate = time.Now()

	// 配信が追いつかない購読者はフレームを落とす（巡回をブロックしない）
	for _, ch := range rec.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

// MarkError はサーフェスをエラー表示にする。サーフェスは破棄しない
func (r *DisplayRegistry) MarkError(id camera.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists || rec.state == SurfaceDisabled {
		return
	}
	rec.state = SurfaceError
}

// MarkDisabled はサーフェスを隔離済み表示にする
// ユーザーによる閉鎖と違い、サーフェスは見える状態のまま残る
func (r *DisplayRegistry) MarkDisabled(id camera.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists {
		return
	}
	rec.state = SurfaceDisabled
}

// Destroy はサーフェスを破棄する。存在した場合にtrueを返す
func (r *DisplayRegistry) Destroy(id camera.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyLocked(id)
}

// destroyLocked はロック保持前提の破棄処理
func (r *DisplayRegistry) destroyLocked(id camera.ID) bool {
	rec, exists := r.records[id]
	if !exists {
		return false
	}

	// 購読チャンネルを閉じて配信終了を通知する
	for _, ch := range rec.subscribers {
		close(ch)
	}
	delete(r.records, id)
	return true
}

// DestroyAll は全てのサーフェスを破棄し、破棄した数を返す
func (r *DisplayRegistry) DestroyAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id := range r.records {
		if r.destroyLocked(id) {
			count++
		}
	}
	return count
}

// UserClose はユーザーによるサーフェス閉鎖を処理する
// サーフェスを破棄した上で、登録されたコールバック（スケジューラの
// RemoveCamera）に通知する。存在した場合にtrueを返す
func (r *DisplayRegistry) UserClose(id camera.ID) bool {
	r.mu.Lock()
	existed := r.destroyLocked(id)
	fn := r.onUserClose
	r.mu.Unlock()

	if existed && fn != nil {
		fn(id)
	}
	return existed
}

// Get は指定カメラのサーフェス情報を返す
func (r *DisplayRegistry) Get(id camera.ID) (DisplayRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return DisplayRecord{}, false
	}
	return r.toRecord(id, rec), true
}

// LastFrame は指定カメラの最新フレームを返す
func (r *DisplayRegistry) LastFrame(id camera.ID) (*camera.Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists || rec.lastFrame == nil {
		return nil, false
	}
	return rec.lastFrame, true
}

// List は全サーフェスの情報をカメラID順で返す
func (r *DisplayRegistry) List() []DisplayRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]DisplayRecord, 0, len(r.records))
	for id, rec := range r.records {
		result = append(result, r.toRecord(id, rec))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CameraID < result[j].CameraID
	})
	return result
}

// Len は現在のサーフェス数を返す
func (r *DisplayRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Subscribe は指定カメラのフレーム配信を購読する
// 返されたチャンネルはサーフェスの破棄時に閉じられる
func (r *DisplayRegistry) Subscribe(id camera.ID) (string, <-chan *camera.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists {
		return "", nil, false
	}

	subID := uuid.New().String()
	ch := make(chan *camera.Frame, subscriberBuffer)
	rec.subscribers[subID] = ch
	return subID, ch, true
}

// Unsubscribe は購読を解除する
// サーフェスが既に破棄されている場合は何もしない
func (r *DisplayRegistry) Unsubscribe(id camera.ID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists {
		return
	}
	if ch, ok := rec.subscribers[subID]; ok {
		close(ch)
		delete(rec.subscribers, subID)
	}
}

// toRecord はロック保持前提で外部公開用の情報に変換する
func (r *DisplayRegistry) toRecord(id camera.ID, rec *surfaceRecord) DisplayRecord {
	return DisplayRecord{
		SurfaceID:  rec.surfaceID,
		CameraID:   id,
		State:      rec.state,
		LastUpdate: rec.lastUpdate,
		HasFrame:   rec.lastFrame != nil,
	}
}
