package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace = "adaptivestudy"

// Metrics are the diagnostic counters of the engine. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	EventsRecorded      *prometheus.CounterVec
	EventsDropped       *prometheus.CounterVec
	AbilityDegenerate   prometheus.Counter
	InvalidState        prometheus.Counter
	Fallbacks           *prometheus.CounterVec
	RepositoryConflicts prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg (if non-nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_recorded_total",
			Help:      "Telemetry events persisted, by kind.",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_dropped_total",
			Help:      "Telemetry events dropped, by reason.",
		}, []string{"reason"}),
		AbilityDegenerate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ability_degenerate_total",
			Help:      "Ability updates whose posterior weights underflowed.",
		}),
		InvalidState: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_state_total",
			Help:      "Updates rejected because of invalid learner state or input.",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_fallbacks_total",
			Help:      "Anti-starvation fallbacks, by component.",
		}, []string{"component"}),
		RepositoryConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_conflicts_total",
			Help:      "Optimistic concurrency conflicts on learner state.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.EventsRecorded, m.EventsDropped, m.AbilityDegenerate,
			m.InvalidState, m.Fallbacks, m.RepositoryConflicts)
	}
	return m
}

func (m *Metrics) recorded(kind Kind, n int) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// Degenerate counts a degenerate ability update
func (m *Metrics) Degenerate() {
	if m == nil {
		return
	}
	m.AbilityDegenerate.Inc()
}

// Invalid counts a rejected update
func (m *Metrics) Invalid() {
	if m == nil {
		return
	}
	m.InvalidState.Inc()
}

// Fallback counts an anti-starvation fallback of component
func (m *Metrics) Fallback(component string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(component).Inc()
}

// Conflict counts a repository conflict
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.RepositoryConflicts.Inc()
}
