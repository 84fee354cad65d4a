package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors SPEC_FULL.md's domain stack wires
// up: intent/offer counts from the Coordinator, tick latency and accept-race
// counts from the Scheduler/Coordinator's atomic acceptIntentOffer path.
type Metrics struct {
	registry          *prometheus.Registry
	intentsTotal      *prometheus.CounterVec
	offersTotal       prometheus.Counter
	acceptRacesTotal  prometheus.Counter
	schedulerTickSecs prometheus.Histogram
}

// NewMetrics constructs and registers the four MESH collectors on a fresh
// registry; no process or Go runtime collectors are registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_intents_total",
			Help: "Total intents observed by status transition.",
		}, []string{"status"}),
		offersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_offers_total",
			Help: "Total offers recorded, self and inbound.",
		}),
		acceptRacesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_accept_races_total",
			Help: "Total times acceptIntentOffer observed a losing, already-accepted intent.",
		}),
		schedulerTickSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mesh_scheduler_tick_duration_seconds",
			Help:    "Wall time of one Scheduler.Tick invocation.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.intentsTotal, m.offersTotal, m.acceptRacesTotal, m.schedulerTickSecs)
	return m
}

// IntentCreated/IntentAccepted/IntentSettled/IntentExpired increment the
// status-labeled intent counter. Named per-transition rather than a single
// generic Inc(status) call so callers can't typo a label that never existed.
func (m *Metrics) IntentCreated()  { m.intentsTotal.WithLabelValues("created").Inc() }
func (m *Metrics) IntentAccepted() { m.intentsTotal.WithLabelValues("accepted").Inc() }
func (m *Metrics) IntentSettled()  { m.intentsTotal.WithLabelValues("settled").Inc() }
func (m *Metrics) IntentExpired()  { m.intentsTotal.WithLabelValues("expired").Inc() }

// OfferRecorded increments the offer counter.
func (m *Metrics) OfferRecorded() { m.offersTotal.Inc() }

// AcceptRace increments the accept-race counter: a caller observed
// AcceptResult.OK == false because another caller won the race first.
func (m *Metrics) AcceptRace() { m.acceptRacesTotal.Inc() }

// ObserveTick records one Scheduler.Tick's wall-clock duration.
func (m *Metrics) ObserveTick(d time.Duration) { m.schedulerTickSecs.Observe(d.Seconds()) }
