package rotation

import (
	"testing"
	"time"

	"rinban/internal/camera"
)

func testFrame() *camera.Frame {
	return &camera.Frame{
		Data:       []byte{0xFF, 0xD8, 0xFF, 0xD9},
		Width:      640,
		Height:     480,
		CapturedAt: time.Now(),
	}
}

func TestDisplayRegistry_MaterializeIsIdempotent(t *testing.T) {
	r := NewDisplayRegistry()

	r.Materialize("camA")
	first, ok := r.Get("camA")
	if !ok {
		t.Fatal("Expected surface to exist")
	}
	if first.State != SurfaceLive {
		t.Errorf("Expected new surface live, got %s", first.State)
	}
	if first.SurfaceID == "" {
		t.Error("Expected non-empty surface ID")
	}

	// 再作成しても同じサーフェスのまま
	r.Materialize("camA")
	second, _ := r.Get("camA")
	if second.SurfaceID != first.SurfaceID {
		t.Error("Materialize must not replace an existing surface")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 surface, got %d", r.Len())
	}
}

func TestDisplayRegistry_UpdateAndLastFrame(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camA")

	frame := testFrame()
	r.Update("camA", frame)

	rec, _ := r.Get("camA")
	if rec.State != SurfaceLive || !rec.HasFrame {
		t.Errorf("Expected live surface with frame, got %+v", rec)
	}

	got, ok := r.LastFrame("camA")
	if !ok || got != frame {
		t.Error("Expected LastFrame to return the delivered frame")
	}

	// 存在しないカメラへの更新は無視される
	r.Update("unknown", frame)
	if r.Len() != 1 {
		t.Error("Update must not create surfaces")
	}
}

func TestDisplayRegistry_ErrorAndRecovery(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camA")
	r.Update("camA", testFrame())

	r.MarkError("camA")
	rec, _ := r.Get("camA")
	if rec.State != SurfaceError {
		t.Errorf("Expected error state, got %s", rec.State)
	}
	// エラー表示でも最新フレームは保持される
	if !rec.HasFrame {
		t.Error("Error state must keep the last frame")
	}

	// 成功すれば通常表示に戻る
	r.Update("camA", testFrame())
	rec, _ = r.Get("camA")
	if rec.State != SurfaceLive {
		t.Errorf("Expected recovery to live, got %s", rec.State)
	}
}

func TestDisplayRegistry_DisabledIsTerminal(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camA")
	r.Update("camA", testFrame())
	last, _ := r.LastFrame("camA")

	r.MarkDisabled("camA")
	rec, ok := r.Get("camA")
	if !ok {
		t.Fatal("Disabled surface must remain visible")
	}
	if rec.State != SurfaceDisabled {
		t.Errorf("Expected disabled state, got %s", rec.State)
	}

	// 無効化後の更新・エラーは反映されない
	r.Update("camA", testFrame())
	r.MarkError("camA")

	rec, _ = r.Get("camA")
	if rec.State != SurfaceDisabled {
		t.Errorf("Disabled state must not change, got %s", rec.State)
	}
	if frame, _ := r.LastFrame("camA"); frame != last {
		t.Error("Disabled surface must keep its last frame")
	}
}

func TestDisplayRegistry_DestroyAll(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camA")
	r.Materialize("camB")
	r.MarkDisabled("camB")

	// 無効化済みも含めて全て破棄される
	if n := r.DestroyAll(); n != 2 {
		t.Errorf("Expected 2 destroyed, got %d", n)
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}

	// 2度目は何も破棄しない
	if n := r.DestroyAll(); n != 0 {
		t.Errorf("Expected 0 destroyed on second call, got %d", n)
	}
}

func TestDisplayRegistry_UserCloseNotifies(t *testing.T) {
	r := NewDisplayRegistry()

	var closed []camera.ID
	r.SetUserCloseHandler(func(id camera.ID) {
		closed = append(closed, id)
	})

	r.Materialize("camA")

	if !r.UserClose("camA") {
		t.Error("Expected UserClose to report an existing surface")
	}
	if len(closed) != 1 || closed[0] != "camA" {
		t.Errorf("Expected callback for camA, got %v", closed)
	}
	if _, ok := r.Get("camA"); ok {
		t.Error("Closed surface must be destroyed")
	}

	// 存在しないサーフェスはfalseを返し、コールバックも呼ばれない
	if r.UserClose("camA") {
		t.Error("Expected false for an absent surface")
	}
	if len(closed) != 1 {
		t.Errorf("Callback must not fire for an absent surface, got %v", closed)
	}
}

func TestDisplayRegistry_SubscribeDelivery(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camA")

	subID, frames, ok := r.Subscribe("camA")
	if !ok {
		t.Fatal("Subscribe failed")
	}

	frame := testFrame()
	r.Update("camA", frame)

	select {
	case got := <-frames:
		if got != frame {
			t.Error("Expected the delivered frame")
		}
	default:
		t.Fatal("Expected a buffered frame")
	}

	// 購読解除後はチャンネルが閉じられる
	r.Unsubscribe("camA", subID)
	if _, open := <-frames; open {
		t.Error("Expected channel closed after Unsubscribe")
	}
}

func TestDisplayRegistry_SlowSubscriberDoesNotBlock(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camA")

	_, frames, _ := r.Subscribe("camA")

	// バッファを超えて更新してもUpdateはブロックしない
	for i := 0; i < subscriberBuffer*3; i++ {
		r.Update("camA", testFrame())
	}

	if len(frames) != subscriberBuffer {
		t.Errorf("Expected buffer full at %d, got %d", subscriberBuffer, len(frames))
	}
}

func TestDisplayRegistry_DestroyClosesSubscribers(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camA")

	_, frames, _ := r.Subscribe("camA")

	if !r.Destroy("camA") {
		t.Fatal("Destroy failed")
	}

	if _, open := <-frames; open {
		t.Error("Expected subscriber channel closed on destroy")
	}

	// 破棄済みサーフェスへの購読は失敗する
	if _, _, ok := r.Subscribe("camA"); ok {
		t.Error("Expected Subscribe to fail on a destroyed surface")
	}
}

func TestDisplayRegistry_ListSorted(t *testing.T) {
	r := NewDisplayRegistry()
	r.Materialize("camC")
	r.Materialize("camA")
	r.Materialize("camB")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 surfaces, got %d", len(list))
	}
	for i, want := range []camera.ID{"camA", "camB", "camC"} {
		if list[i].CameraID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, list[i].CameraID)
		}
	}
}
