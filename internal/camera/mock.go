package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockFrameData は最小のJPEGマーカーを持つダミーデータ
var mockFrameData = []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x00, 0xFF, 0xD9}

// MockBackend はテスト用のモックBackend実装
// 実デバイスと同じ排他オープンの規律を持ち、キャプチャの失敗を
// カメラ毎に設定できる
type MockBackend struct {
	mu          sync.Mutex
	devices     []Device
	open        map[ID]bool
	openErrs    map[ID]error
	captureErrs map[ID]error
	captureLog  []ID
	opens       map[ID]int
	closes      map[ID]int
	notifyCh    chan ID
}

// NewMockBackend は指定されたIDのデバイスを持つMockBackendを作成する
func NewMockBackend(ids ...ID) *MockBackend {
	b := &MockBackend{
		open:        make(map[ID]bool),
		openErrs:    make(map[ID]error),
		captureErrs: make(map[ID]error),
		opens:       make(map[ID]int),
		closes:      make(map[ID]int),
	}
	for _, id := range ids {
		b.AddDevice(id)
	}
	return b
}

// AddDevice はテスト用にデバイスを追加する
func (b *MockBackend) AddDevice(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, d := range b.devices {
		if d.ID == id {
			return
		}
	}
	num := len(b.devices) + 1
	b.devices = append(b.devices, Device{
		ID:   id,
		Name: fmt.Sprintf("テストカメラ %d", num),
		Path: fmt.Sprintf("/dev/mock%d", num),
	})
}

// RemoveDevice はテスト用にデバイスを取り除く
func (b *MockBackend) RemoveDevice(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, d := range b.devices {
		if d.ID == id {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			return
		}
	}
}

// SetOpenError は指定カメラのOpenを失敗させる。nilで解除
func (b *MockBackend) SetOpenError(id ID, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.openErrs, id)
		return
	}
	b.openErrs[id] = err
}

// SetCaptureError は指定カメラのCaptureFrameを失敗させる。nilで解除
func (b *MockBackend) SetCaptureError(id ID, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.captureErrs, id)
		return
	}
	b.captureErrs[id] = err
}

// SetNotify はキャプチャ試行毎にカメラIDを送るチャンネルを設定する
// テスト側で必ず受信すること（送信はブロックする）
func (b *MockBackend) SetNotify(ch chan ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifyCh = ch
}

// CaptureLog はキャプチャ試行の履歴をカメラID順で返す
func (b *MockBackend) CaptureLog() []ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]ID, len(b.captureLog))
	copy(result, b.captureLog)
	return result
}

// OpenCount は指定カメラの成功したOpen回数を返す
func (b *MockBackend) OpenCount(id ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[id]
}

// CloseCount は指定カメラのClose回数を返す
func (b *MockBackend) CloseCount(id ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes[id]
}

// ListCameras はモックデバイス一覧を返す
func (b *MockBackend) ListCameras(_ context.Context) ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]Device, len(b.devices))
	copy(result, b.devices)
	return result, nil
}

// Open はモックデバイスを排他的に開く
func (b *MockBackend) Open(_ context.Context, id ID) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for _, d := range b.devices {
		if d.ID == id {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	if err, ok := b.openErrs[id]; ok {
		return nil, err
	}

	if b.open[id] {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, id)
	}
	b.open[id] = true
	b.opens[id]++

	return &mockHandle{backend: b, id: id}, nil
}

// mockHandle は開かれたモックデバイス
type mockHandle struct {
	backend *MockBackend
	id      ID

	mu     sync.Mutex
	closed bool
}

// CaptureFrame は設定に応じてダミーフレームまたはエラーを返す
func (h *mockHandle) CaptureFrame(_ context.Context) (*Frame, error) {
	h.backend.mu.Lock()
	h.backend.captureLog = append(h.backend.captureLog, h.id)
	err := h.backend.captureErrs[h.id]
	notify := h.backend.notifyCh
	h.backend.mu.Unlock()

	if notify != nil {
		notify <- h.id
	}

	if err != nil {
		return nil, err
	}

	return &Frame{
		Data:       mockFrameData,
		Width:      640,
		Height:     480,
		CapturedAt: time.Now(),
	}, nil
}

// Close はモックデバイスを解放する。何度呼んでも安全
func (h *mockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	h.backend.open[h.id] = false
	h.backend.closes[h.id]++
	return nil
}
