// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// HTTPミドルウェアやチャット・テーブルのサービス層から利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordChatTurn(outcome string)
	RecordToolCall(tool string, outcome string)
	RecordCompletionLatency(duration time.Duration)
	RecordTableOperation(operation string, outcome string)
	SetActiveSessions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus        *prometheus.CounterVec
	chatTurns         *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	completionLatency prometheus.Histogram
	tableOperations   *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calcoach_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calcoach_chat_turns_total",
			Help: "結果別のチャットターン数",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calcoach_tool_calls_total",
			Help: "ツール名と結果別のツール呼び出し数",
		}, []string{"tool", "outcome"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calcoach_completion_latency_seconds",
			Help:    "チャット補完APIのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		tableOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calcoach_table_operations_total",
			Help: "操作と結果別のテーブルプロキシ操作数",
		}, []string{"operation", "outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calcoach_chat_sessions",
			Help: "保持しているチャットセッション数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.chatTurns,
		c.toolCalls,
		c.completionLatency,
		c.tableOperations,
		c.activeSessions,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordChatTurn はチャットターンの結果を記録する。
func (c *Collector) RecordChatTurn(outcome string) {
	c.chatTurns.WithLabelValues(outcome).Inc()
}

// RecordToolCall はツール呼び出しの結果を記録する。
func (c *Collector) RecordToolCall(tool string, outcome string) {
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordCompletionLatency は補完API呼び出しのレイテンシを記録する。
func (c *Collector) RecordCompletionLatency(duration time.Duration) {
	c.completionLatency.Observe(duration.Seconds())
}

// RecordTableOperation はテーブルプロキシ操作の結果を記録する。
func (c *Collector) RecordTableOperation(operation string, outcome string) {
	c.tableOperations.WithLabelValues(operation, outcome).Inc()
}

// SetActiveSessions は保持しているセッション数を設定する。
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordChatTurn(string) {}
func (Nop) RecordToolCall(string, string) {}
func (Nop) RecordCompletionLatency(time.Duration) {}
func (Nop) RecordTableOperation(string, string) {}
func (Nop) SetActiveSessions(int) {}
