package locate

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors for location requests and the
// hypothesis search. All methods are safe on a nil receiver.
type Metrics struct {
	gatherer prometheus.Gatherer

	Requests       *prometheus.CounterVec
	StageDurations *prometheus.HistogramVec
	Hypotheses     prometheus.Counter
	Degenerate     prometheus.Counter
	Rounds         prometheus.Counter
	FixQuality     prometheus.Gauge
	FixAltitude    prometheus.Gauge
	MQTTMessages   *prometheus.CounterVec
}

// NewMetrics registers collectors against reg, defaulting to the global
// registry when nil. Collectors that already exist are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyfix_locate_requests_total",
		Help: "Location requests, labeled by source and result.",
	}, []string{"source", "result"}), "skyfix_locate_requests_total")
	if err != nil {
		return nil, err
	}

	stages, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skyfix_stage_duration_seconds",
		Help:    "Duration of each location pipeline stage in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"}), "skyfix_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	hypotheses, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skyfix_hypotheses_total",
		Help: "Transform hypotheses evaluated.",
	}), "skyfix_hypotheses_total")
	if err != nil {
		return nil, err
	}
	degenerate, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skyfix_degenerate_pairs_total",
		Help: "Correspondence pairs skipped because their points coincide.",
	}), "skyfix_degenerate_pairs_total")
	if err != nil {
		return nil, err
	}
	rounds, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skyfix_search_rounds_total",
		Help: "Escalation rounds run by the solver.",
	}), "skyfix_search_rounds_total")
	if err != nil {
		return nil, err
	}

	quality, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skyfix_fix_quality",
		Help: "Quality (mean trimmed residual in meters) of the last fix.",
	}), "skyfix_fix_quality")
	if err != nil {
		return nil, err
	}
	altitude, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skyfix_fix_altitude_meters",
		Help: "Estimated altitude of the last fix.",
	}), "skyfix_fix_altitude_meters")
	if err != nil {
		return nil, err
	}

	mqttMessages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyfix_mqtt_messages_total",
		Help: "MQTT messages handled, labeled by topic kind.",
	}, []string{"kind"}), "skyfix_mqtt_messages_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:       gatherer,
		Requests:       requests,
		StageDurations: stages,
		Hypotheses:     hypotheses,
		Degenerate:     degenerate,
		Rounds:         rounds,
		FixQuality:     quality,
		FixAltitude:    altitude,
		MQTTMessages:   mqttMessages,
	}, nil
}

// Handler exposes the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRound counts one escalation round
func (m *Metrics) RecordRound(hypotheses, degenerate int) {
	if m == nil {
		return
	}
	m.Rounds.Inc()
	m.Hypotheses.Add(float64(hypotheses))
	m.Degenerate.Add(float64(degenerate))
}

// RecordRequest counts a location request outcome
func (m *Metrics) RecordRequest(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Requests.WithLabelValues(source, result).Inc()
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurations.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordFix updates the last-fix gauges
func (m *Metrics) RecordFix(fix Fix) {
	if m == nil {
		return
	}
	m.FixQuality.Set(fix.Quality)
	m.FixAltitude.Set(float64(fix.Height))
}

// RecordMQTT counts an MQTT message of the given kind (request, fix, error)
func (m *Metrics) RecordMQTT(kind string) {
	if m == nil {
		return
	}
	m.MQTTMessages.WithLabelValues(kind).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
