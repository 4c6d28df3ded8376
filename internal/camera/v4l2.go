package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// V4L2Backend はffmpegとv4l2-ctlを使った実カメラバックエンド
// ハードウェアは同一デバイスの同時オープンを許さないため、
// プロセス内でもデバイス単位の排他管理を行う
type V4L2Backend struct {
	devices []Device // 設定で指定されたデバイス（空なら自動検出）
	width   int
	height  int

	mu   sync.Mutex
	open map[ID]bool
}

// NewV4L2Backend は新しいV4L2Backendを作成する
// devicesが空の場合、列挙時に/dev/video*を自動検出する
func NewV4L2Backend(devices []Device, width, height int) *V4L2Backend {
	return &V4L2Backend{
		devices: devices,
		width:   width,
		height:  height,
		open:    make(map[ID]bool),
	}
}

// ListCameras は利用可能なカメラ一覧を返す
func (b *V4L2Backend) ListCameras(ctx context.Context) ([]Device, error) {
	if len(b.devices) > 0 {
		result := make([]Device, len(b.devices))
		copy(result, b.devices)
		return result, nil
	}
	return b.scanDevices(ctx)
}

// scanDevices は/dev/video*パターンでデバイスを検索する
func (b *V4L2Backend) scanDevices(ctx context.Context) ([]Device, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []Device
	for _, path := range matches {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !isDeviceReadable(path) {
			continue
		}

		devices = append(devices, Device{
			ID:   ID(path),
			Name: deviceName(ctx, path),
			Path: path,
		})
	}

	return devices, nil
}

// Open はカメラを排他的に開く
func (b *V4L2Backend) Open(ctx context.Context, id ID) (Handle, error) {
	device, found, err := b.findDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if !isDeviceReadable(device.Path) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, device.Path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open[id] {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, id)
	}
	b.open[id] = true

	return &v4l2Handle{backend: b, device: device}, nil
}

// findDevice はIDに対応するデバイスを探す
func (b *V4L2Backend) findDevice(ctx context.Context, id ID) (Device, bool, error) {
	devices, err := b.ListCameras(ctx)
	if err != nil {
		return Device{}, false, fmt.Errorf("デバイス一覧の取得に失敗: %w", err)
	}
	for _, d := range devices {
		if d.ID == id {
			return d, true, nil
		}
	}
	return Device{}, false, nil
}

// release はデバイスの排他保持を解放する
func (b *V4L2Backend) release(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.open, id)
}

// v4l2Handle は排他的に開かれたV4L2デバイス
type v4l2Handle struct {
	backend *V4L2Backend
	device  Device

	mu     sync.Mutex
	closed bool
}

// CaptureFrame はffmpegで1フレームをJPEGとしてキャプチャする
func (h *v4l2Handle) CaptureFrame(ctx context.Context) (*Frame, error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", h.backend.width, h.backend.height),
		"-i", h.device.Path,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v (stderr: %s)", ErrCapture, err, stderr.String())
	}

	return &Frame{
		Data:       stdout.Bytes(),
		Width:      h.backend.width,
		Height:     h.backend.height,
		CapturedAt: time.Now(),
	}, nil
}

// Close はデバイスの排他保持を解放する。何度呼んでも安全
func (h *v4l2Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.backend.release(h.device.ID)
	return nil
}

// isDeviceReadable はデバイスファイルが存在し読み取り可能かチェックする
func isDeviceReadable(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer func() {
		_ = file.Close()
	}()

	return true
}

// deviceName はv4l2-ctlからデバイスの実名を取得する
// 取得できない場合はデバイスパスをそのまま返す
func deviceName(ctx context.Context, path string) string {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", path, "--info")
	output, err := cmd.Output()
	if err != nil {
		return path
	}

	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "Card type") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if name := strings.TrimSpace(parts[1]); name != "" {
					return name
				}
			}
		}
	}

	return path
}

var deviceNumberPattern = regexp.MustCompile(`video(\d+)$`)

// extractDeviceNumber はデバイスパスから番号を取り出す
func extractDeviceNumber(path string) int {
	matches := deviceNumberPattern.FindStringSubmatch(path)
	if len(matches) != 2 {
		return 0
	}
	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
