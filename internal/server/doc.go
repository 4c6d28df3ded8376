// Package server は、巡回キャプチャの操作用HTTP APIを提供します。
//
// このパッケージは、カメラ選択と巡回の開始・停止・間隔変更、
// 表示サーフェスのフレーム配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - 巡回キャプチャの操作エンドポイント
//   - 表示サーフェスへのWebSocketフレーム配信
//   - プレビューセッションの操作
//   - Prometheusメトリクスの公開
//
// 仕様:
//   - ルーティングにgin-gonic/ginを使用
//   - フレーム配信にgorilla/websocketを使用
//   - シグナル受信時のグレースフルシャットダウンに対応
package server
