package procurement

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds GRN workflow collectors. A nil *Metrics records nothing.
type Metrics struct {
	lines       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	commits     *prometheus.CounterVec
	committed   prometheus.Counter
}

// NewMetrics registers the GRN collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_grn_reconciliation_lines_total",
			Help: "GRN lines reconciled on create or update, by classification.",
		}, []string{"classification"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_grn_transitions_total",
			Help: "GRN lifecycle transitions by event.",
		}, []string{"event"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_grn_excess_resolutions_total",
			Help: "Excess resolutions recorded by action.",
		}, []string{"action"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_grn_commits_total",
			Help: "GRNs committed to inventory by excess resolution.",
		}, []string{"resolution"}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_grn_committed_lines_total",
			Help: "Inventory inbound lines written by GRN commits.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.lines, m.transitions, m.resolutions, m.commits, m.committed)
	}
	return m
}

func (m *Metrics) observeSummary(lines []GRNLine) {
	if m == nil {
		return
	}
	for _, line := range lines {
		m.lines.WithLabelValues(string(line.Reconcile().Classification)).Inc()
	}
}

func (m *Metrics) observeTransition(event Event) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) observeResolution(action ExcessAction) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) observeCommit(resolution ExcessAction, postedLines int) {
	if m == nil {
		return
	}
	label := string(resolution)
	if label == "" {
		label = "none"
	}
	m.commits.WithLabelValues(label).Inc()
	m.committed.Add(float64(postedLines))
}
