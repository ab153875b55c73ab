package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-meshnet/pkg/types"
)

const namespace = "meshnet"

// Recorder 导出 Prometheus 指标
//
// nil Recorder 的所有方法为空操作。
type Recorder struct {
	messages  *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	rounds    *prometheus.CounterVec
	connected prometheus.Gauge
	known     prometheus.Gauge
	records   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewRecorder 创建并注册指标
//
// reg 为 nil 时使用独立的 Registry。
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages sent and received grouped by direction and type",
		}, []string{"direction", "type"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Envelope payload bytes grouped by direction",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped grouped by reason",
		}, []string{"reason"}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_rounds_total",
			Help:      "Consensus rounds reaching a terminal state",
		}, []string{"state"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Number of connected peers",
		}),
		known: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_peers",
			Help:      "Number of peers in the routing table",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dht_records",
			Help:      "Number of records held by the local store",
		}),
		gatherer: reg,
	}

	reg.MustRegister(r.messages, r.bytes, r.dropped, r.rounds, r.connected, r.known, r.records)
	return r
}

// Handler 返回指标的 HTTP 处理器
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Gatherer 返回指标收集器
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.gatherer
}

func (r *Recorder) recordMessage(direction string, typ types.MessageType, size int) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(direction, typ.String()).Inc()
	r.bytes.WithLabelValues(direction).Add(float64(size))
}

func (r *Recorder) recordDrop(reason string) {
	if r == nil {
		return
	}
	r.dropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) setPeers(connected, known int) {
	if r == nil {
		return
	}
	r.connected.Set(float64(connected))
	r.known.Set(float64(known))
}

func (r *Recorder) setRecords(n int) {
	if r == nil {
		return
	}
	r.records.Set(float64(n))
}

func (r *Recorder) recordRound(state string) {
	if r == nil {
		return
	}
	r.rounds.WithLabelValues(state).Inc()
}
