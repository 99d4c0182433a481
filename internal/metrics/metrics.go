// Package metrics holds the prometheus counters shared by the request pipeline.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authpipeline"

// Refresh outcome label values
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
	RefreshSkipped = "skipped" // no refresh token available
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	retries       *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	refreshJoins  prometheus.Counter
	replays       prometheus.Counter
	sessionClears *prometheus.CounterVec
}

// New creates the pipeline counters and registers them with reg.
// A nil registerer creates unregistered counters.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Retries issued by the retry policy, by the status that triggered them (0 for transport errors).",
		}, []string{"status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh operations started by the coordinator, by outcome.",
		}, []string{"result"}),
		refreshJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_joins_total",
			Help:      "Callers that joined an in-flight refresh instead of starting one.",
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_replays_total",
			Help:      "Requests replayed with a new bearer token after a 401.",
		}),
		sessionClears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_clears_total",
			Help:      "Sessions cleared by the authenticator, by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.retries, m.refreshes, m.refreshJoins, m.replays, m.sessionClears} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) Retry(status int) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshJoined() {
	if m == nil {
		return
	}
	m.refreshJoins.Inc()
}

func (m *Metrics) Replay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func (m *Metrics) SessionCleared(reason string) {
	if m == nil {
		return
	}
	m.sessionClears.WithLabelValues(reason).Inc()
}

// Retries returns the retry counter for status, for tests and diagnostics.
func (m *Metrics) Retries(status int) prometheus.Counter {
	return m.retries.WithLabelValues(strconv.Itoa(status))
}

// Refreshes returns the refresh counter for result.
func (m *Metrics) Refreshes(result string) prometheus.Counter {
	return m.refreshes.WithLabelValues(result)
}

// Replays returns the replay counter.
func (m *Metrics) Replays() prometheus.Counter {
	return m.replays
}

// SessionClears returns the session clear counter for reason.
func (m *Metrics) SessionClears(reason string) prometheus.Counter {
	return m.sessionClears.WithLabelValues(reason)
}
