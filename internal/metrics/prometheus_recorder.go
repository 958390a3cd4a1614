package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	commands      *prom.CounterVec
	unknownSource prom.Counter
	alerts        *prom.CounterVec
	sendFailures  *prom.CounterVec
	fetchFailures *prom.CounterVec
	fetchDuration *prom.HistogramVec
	activeWatches *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.commands = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "homehub",
			Name:      "commands_dispatched_total",
			Help:      "Commands dispatched to a handler, by bot",
		}, []string{"bot"})
		pr.unknownSource = prom.NewCounter(prom.CounterOpts{
			Namespace: "homehub",
			Name:      "commands_unknown_source_total",
			Help:      "Inbound commands dropped because the routing key is unknown",
		})
		pr.alerts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "homehub",
			Name:      "alerts_sent_total",
			Help:      "Outbound messages delivered to the gateway, by bot",
		}, []string{"bot"})
		pr.sendFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "homehub",
			Name:      "send_failures_total",
			Help:      "Outbound deliveries rejected or failed, by bot",
		}, []string{"bot"})
		pr.fetchFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "homehub",
			Name:      "fetch_failures_total",
			Help:      "External source fetch failures, by bot",
		}, []string{"bot"})
		pr.fetchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "homehub",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of external source fetches",
			Buckets:   prom.DefBuckets,
		}, []string{"bot"})
		pr.activeWatches = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "homehub",
			Name:      "active_watches",
			Help:      "Currently registered watches, by bot",
		}, []string{"bot"})
		reg.MustRegister(pr.commands, pr.unknownSource, pr.alerts, pr.sendFailures,
			pr.fetchFailures, pr.fetchDuration, pr.activeWatches)
	})
	return pr
}

func (p *PrometheusRecorder) IncCommandDispatched(bot string) {
	if p == nil || p.commands == nil {
		return
	}
	p.commands.WithLabelValues(bot).Inc()
}

func (p *PrometheusRecorder) IncCommandUnknownSource() {
	if p == nil || p.unknownSource == nil {
		return
	}
	p.unknownSource.Inc()
}

func (p *PrometheusRecorder) IncAlertSent(bot string) {
	if p == nil || p.alerts == nil {
		return
	}
	p.alerts.WithLabelValues(bot).Inc()
}

func (p *PrometheusRecorder) IncSendFailure(bot string) {
	if p == nil || p.sendFailures == nil {
		return
	}
	p.sendFailures.WithLabelValues(bot).Inc()
}

func (p *PrometheusRecorder) IncFetchFailure(bot string) {
	if p == nil || p.fetchFailures == nil {
		return
	}
	p.fetchFailures.WithLabelValues(bot).Inc()
}

func (p *PrometheusRecorder) ObserveFetchDuration(bot string, d time.Duration) {
	if p == nil || p.fetchDuration == nil {
		return
	}
	p.fetchDuration.WithLabelValues(bot).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetActiveWatches(bot string, n int) {
	if p == nil || p.activeWatches == nil {
		return
	}
	p.activeWatches.WithLabelValues(bot).Set(float64(n))
}
