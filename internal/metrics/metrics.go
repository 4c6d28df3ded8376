// Package metrics 巡回キャプチャのPrometheusメトリクスを提供する
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics は巡回キャプチャのカウンタとゲージを保持する
// レシーバがnilの場合、各メソッドは何もしない（メトリクスなしでの
// 動作を許すため）
type Metrics struct {
	registry             *prometheus.Registry
	ticksTotal           prometheus.Counter
	capturesTotal        prometheus.Counter
	captureFailuresTotal prometheus.Counter
	quarantinesTotal     prometheus.Counter
	activeCameras        prometheus.Gauge
}

// New は独立したレジストリを持つメトリクスを作成・登録する
func New() *Metrics {
	registry := prometheus.NewRegistry()

	ticksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rinban_ticks_total",
		Help: "Total number of rotation ticks fired",
	})
	capturesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rinban_captures_total",
		Help: "Total number of successful frame captures",
	})
	captureFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rinban_capture_failures_total",
		Help: "Total number of failed frame captures",
	})
	quarantinesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rinban_quarantines_total",
		Help: "Total number of cameras quarantined after repeated failures",
	})
	activeCameras := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rinban_active_cameras",
		Help: "Number of cameras currently in rotation",
	})

	registry.MustRegister(
		ticksTotal,
		capturesTotal,
		captureFailuresTotal,
		quarantinesTotal,
		activeCameras,
	)

	return &Metrics{
		registry:             registry,
		ticksTotal:           ticksTotal,
		capturesTotal:        capturesTotal,
		captureFailuresTotal: captureFailuresTotal,
		quarantinesTotal:     quarantinesTotal,
		activeCameras:        activeCameras,
	}
}

// IncTicks はtickカウンタを1増やす
func (m *Metrics) IncTicks() {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
}

// IncCaptures は成功キャプチャのカウンタを1増やす
func (m *Metrics) IncCaptures() {
	if m == nil {
		return
	}
	m.capturesTotal.Inc()
}

// IncCaptureFailures は失敗キャプチャのカウンタを1増やす
func (m *Metrics) IncCaptureFailures() {
	if m == nil {
		return
	}
	m.captureFailuresTotal.Inc()
}

// IncQuarantines は隔離カウンタを1増やす
func (m *Metrics) IncQuarantines() {
	if m == nil {
		return
	}
	m.quarantinesTotal.Inc()
}

// SetActiveCameras はローテーション中のカメラ数を設定する
func (m *Metrics) SetActiveCameras(n int) {
	if m == nil {
		return
	}
	m.activeCameras.Set(float64(n))
}

// Handler はPrometheusメトリクスを配信するhttp.Handlerを返す
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
