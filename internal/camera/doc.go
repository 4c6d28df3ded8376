// Package camera カメラデバイスへの排他アクセスを担う
//
// # 責務
// - カメラデバイスの列挙と排他オープン
// - 1フレーム単位の同期キャプチャ
// - 単一カメラのライブプレビューセッション管理
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラから1フレームを取得したい（巡回キャプチャ）
// - カメラを占有して連続的にフレームを受け取りたい（プレビュー）
//
// # 仕様
// - Backend: デバイス列挙と排他オープンのインターフェース
// - V4L2Backend: ffmpeg / v4l2-ctl 経由での実デバイスアクセス
// - MockBackend: テストおよびハードウェアなし環境用のモック
// - PreviewManager: 同時に1つだけのプレビューセッションを保証
// - ハードウェアは同一デバイスの同時オープンを許さないため、
//   プロセス内でも排他管理を行う
//
// # 前提要件
//   - v4l-utils: デバイス名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 画像キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
