// Package rotation 複数カメラの巡回キャプチャを担う
//
// # 責務
// - ワーキングセットのラウンドロビン巡回（1tickにつき1台をキャプチャ）
// - 連続失敗したカメラの隔離（ローテーションからの除外）
// - カメラ毎の表示サーフェス管理とフレーム配信
// - 開始・停止・間隔変更のライフサイクル管理
//
// # 仕様
// - Scheduler: 巡回の中核。open→capture→closeを1tickで完結させ、
//   クローズは失敗経路を含む全ての経路で必ず実行する
// - HealthTracker: カメラ毎の連続失敗カウンタ。成功で0に戻る
// - DisplayRegistry: カメラIDから表示サーフェスへの対応。
//   スケジューリングのロジックは持たない
// - tickは単一のゴルーチン内で直列に実行され、同時に複数のtickが
//   走ることはない
// - ワーキングセットへの外部からの変更（ユーザーによるサーフェス閉鎖、
//   間隔変更）はミューテックスで直列化される
package rotation
