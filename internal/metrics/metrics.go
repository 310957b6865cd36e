// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsCreated *prometheus.CounterVec
	sessionsEnded   prometheus.Counter
	alertsSent      prometheus.Counter
	alertsFailed    prometheus.Counter
	lookupFailures  *prometheus.CounterVec
	lookupLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nightguard_escort_sessions_created_total",
			Help: "作成された付き添いセッションの合計数（ステータス別）",
		}, []string{"status"}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightguard_escort_sessions_ended_total",
			Help: "明示的に終了された付き添いセッションの合計数",
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightguard_panic_alerts_sent_total",
			Help: "送信に成功したパニックアラートの合計数",
		}),
		alertsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightguard_panic_alerts_failed_total",
			Help: "送信に失敗したパニックアラートの合計数",
		}),
		lookupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nightguard_lookup_failures_total",
			Help: "外部ルックアップ失敗の合計数（種別: reverse_geocode, forward_geocode, route）",
		}, []string{"kind"}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nightguard_lookup_latency_seconds",
			Help:    "外部ジオコーディング/ルーティングルックアップのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsEnded,
		c.alertsSent,
		c.alertsFailed,
		c.lookupFailures,
		c.lookupLatency,
	)

	return c
}

// RecordSessionCreated はセッション作成をステータス別に記録する。
func (c *Collector) RecordSessionCreated(status string) {
	c.sessionsCreated.WithLabelValues(status).Inc()
}

// RecordSessionEnded はセッションの明示的終了を記録する。
func (c *Collector) RecordSessionEnded() {
	c.sessionsEnded.Inc()
}

// RecordAlertSent はパニックアラート送信成功を記録する。
func (c *Collector) RecordAlertSent() {
	c.alertsSent.Inc()
}

// RecordAlertFailed はパニックアラート送信失敗を記録する。
func (c *Collector) RecordAlertFailed() {
	c.alertsFailed.Inc()
}

// RecordLookupFailure は外部ルックアップ失敗を種別付きで記録する。
func (c *Collector) RecordLookupFailure(kind string) {
	c.lookupFailures.WithLabelValues(kind).Inc()
}

// RecordLookupLatency は外部ルックアップのレイテンシを記録する。
func (c *Collector) RecordLookupLatency(duration time.Duration) {
	c.lookupLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
