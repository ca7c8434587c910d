// Package health implements the health monitor: a single
// goroutine that periodically sweeps sessions for warning/unresponsive
// transitions and auto-cleans dead, idle, unfocused sessions.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harryaskham/io-mcp/internal/eventbus"
	"github.com/harryaskham/io-mcp/internal/session"
	"github.com/harryaskham/io-mcp/pkg/models"
)

// Thresholds
const (
	DefaultCheckInterval         = 30 * time.Second
	DefaultWarningThreshold      = 300 * time.Second
	DefaultUnresponsiveThreshold = 600 * time.Second
	cleanupGraceAfterDead        = 300 * time.Second
)

// ProcessLocator reports whether a session's registered process is still
// alive. The lookup itself is tmux/OS-specific, so it is injected rather
// than implemented here.
type ProcessLocator interface {
	IsAlive(locator string) (alive bool, known bool)
}

// Monitor is the health sweep goroutine.
type Monitor struct {
	manager               *session.Manager
	bus                   *eventbus.Bus
	locator               ProcessLocator
	log                   *slog.Logger
	checkInterval         time.Duration
	warningThreshold      time.Duration
	unresponsiveThreshold time.Duration

	stop chan struct{}
	done chan struct{}

	sessionHealthGauge *prometheus.GaugeVec
}

// New builds a Monitor with the standard thresholds.
func New(manager *session.Manager, bus *eventbus.Bus, locator ProcessLocator, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iobroker_session_health",
		Help: "Session health status, 1 if the session is in this state.",
	}, []string{"session_id", "status"})

	return &Monitor{
		manager:               manager,
		bus:                   bus,
		locator:               locator,
		log:                   log,
		checkInterval:         DefaultCheckInterval,
		warningThreshold:      DefaultWarningThreshold,
		unresponsiveThreshold: DefaultUnresponsiveThreshold,
		stop:                  make(chan struct{}),
		done:                  make(chan struct{}),
		sessionHealthGauge:    gauge,
	}
}

// SetThresholds overrides the check interval and warning/unresponsive
// thresholds, e.g. from loaded config. Must be called before Start.
func (m *Monitor) SetThresholds(checkInterval, warning, unresponsive time.Duration) {
	m.checkInterval = checkInterval
	m.warningThreshold = warning
	m.unresponsiveThreshold = unresponsive
}

// Collector exposes the monitor's Prometheus metrics for registration.
func (m *Monitor) Collector() prometheus.Collector {
	return m.sessionHealthGauge
}

// Start launches the sweep goroutine.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop signals the sweep goroutine to exit and waits for it.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep implements per-session check.
func (m *Monitor) sweep() {
	for _, sess := range m.manager.AllSessions() {
		snap := sess.Snapshot()
		if snap.Active {
			continue // active sessions can't be "stuck" — waiting on the human
		}

		elapsed := time.Since(snap.LastToolCall)
		var newStatus session.HealthStatus
		switch {
		case elapsed >= m.unresponsiveThreshold:
			newStatus = session.HealthUnresponsive
		case elapsed >= m.warningThreshold:
			newStatus = session.HealthWarning
		default:
			newStatus = session.HealthHealthy
		}

		if newStatus != snap.Health {
			sess.SetHealth(newStatus)
			if newStatus == session.HealthWarning || newStatus == session.HealthUnresponsive {
				m.emitTransition(sess, newStatus)
			}
		}
		m.recordGauge(snap.ID, newStatus)

		m.maybeAutoCleanup(sess, snap, elapsed)
	}
}

func (m *Monitor) emitTransition(sess *session.Session, status session.HealthStatus) {
	eventType := models.EventHealthWarning
	if status == session.HealthUnresponsive {
		eventType = models.EventHealthUnresponsive
	}
	m.bus.Publish(models.NewEvent(eventType, sess.ID, map[string]any{"status": string(status)}))
}

func (m *Monitor) recordGauge(sessionID string, status session.HealthStatus) {
	for _, s := range []session.HealthStatus{session.HealthHealthy, session.HealthWarning, session.HealthUnresponsive} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.sessionHealthGauge.WithLabelValues(sessionID, string(s)).Set(v)
	}
}

// maybeAutoCleanup force-cancels pending items and removes the session
// if its process is confirmed dead past grace, or if it's been
// unresponsive with no process locator at all.
func (m *Monitor) maybeAutoCleanup(sess *session.Session, snap session.Snapshot, elapsed time.Duration) {
	if m.manager.IsFocused(sess.ID) {
		return // the focused session is never auto-cleaned
	}

	locatorValue := snap.ProcessLocator

	deadPastGrace := false
	noLocator := locatorValue == ""
	if !noLocator && m.locator != nil {
		alive, known := m.locator.IsAlive(locatorValue)
		if known && !alive && elapsed > cleanupGraceAfterDead {
			deadPastGrace = true
		}
	}

	shouldCleanup := deadPastGrace || (noLocator && elapsed >= m.unresponsiveThreshold)
	if !shouldCleanup {
		return
	}

	sess.CancelAllPending()
	m.manager.Remove(sess.ID)
	m.sessionHealthGauge.DeletePartialMatch(prometheus.Labels{"session_id": sess.ID})
	m.log.Info("health monitor auto-cleaned up session", "session_id", sess.ID, "elapsed_s", elapsed.Seconds())
}
