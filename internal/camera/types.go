package camera

import (
	"context"
	"errors"
	"time"
)

// ID はバックエンドが報告するカメラの一意識別子
// 値の等価性で比較する
type ID string

// Device は列挙されたカメラデバイスの情報
type Device struct {
	ID   ID     `json:"id"`   // カメラID
	Name string `json:"name"` // 表示名
	Path string `json:"path"` // デバイスパス（例: /dev/video0）
}

// Frame はキャプチャされた1フレーム
// 画像データは不透明なJPEGバイト列として扱い、圧縮や色空間の解釈は行わない
type Frame struct {
	Data       []byte    // JPEG画像データ
	Width      int       // 画像幅
	Height     int       // 画像高さ
	CapturedAt time.Time // キャプチャ時刻
}

// キャプチャ失敗の種別。いずれもカメラ単位の回復可能なエラーで、
// 巡回スケジューラは隔離判定のカウント対象として扱う
var (
	// ErrDeviceBusy は他のセッションがデバイスを排他保持している
	ErrDeviceBusy = errors.New("デバイスは使用中です")
	// ErrDeviceNotFound は指定されたデバイスが存在しない
	ErrDeviceNotFound = errors.New("デバイスが見つかりません")
	// ErrCapture はフレーム取得の失敗
	ErrCapture = errors.New("フレームキャプチャに失敗しました")
)

// Backend はカメラデバイスの列挙と排他オープンを担うインターフェース
type Backend interface {
	// ListCameras は利用可能なカメラ一覧を返す（空の場合もある）
	ListCameras(ctx context.Context) ([]Device, error)

	// Open はカメラを排他的に開く
	// 既に開かれている場合はErrDeviceBusyを返す
	Open(ctx context.Context, id ID) (Handle, error)
}

// Handle は排他的に開かれたカメラを表す
// 使用後は必ずCloseを呼び、デバイスの保持を解放すること
type Handle interface {
	// CaptureFrame は1フレームを同期的にキャプチャする
	CaptureFrame(ctx context.Context) (*Frame, error)

	// Close はデバイスを解放する
	// エラーはログ出力用で、呼び出し側の処理は継続してよい
	Close() error
}
