package link

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"camlink-agent/internal/device"
	"camlink-agent/internal/metrics"
	"camlink-agent/internal/model"
)

type Options struct {
	CheckInterval  time.Duration
	MaxOutage      time.Duration
	StartupTimeout time.Duration
	StartupPoll    time.Duration
	// MinAttemptAge suppresses a new disconnect/reconnect cycle while the
	// previous attempt is younger than this. Zero cycles on every failed check.
	MinAttemptAge time.Duration
}

// Monitor owns link association state. CheckAndMaintain must only be called
// from the scheduler goroutine; readers on other goroutines go through the
// atomic accessors.
type Monitor struct {
	logger    *slog.Logger
	station   Station
	restarter device.Restarter
	opts      Options

	lastCheck    time.Time
	failureStart time.Time
	lastAttempt  time.Time
	escalated    bool

	state        atomic.Int32
	failingSince atomic.Int64
	reconnects   atomic.Uint64
	sleep        func(ctx context.Context, d time.Duration)
}

func NewMonitor(station Station, restarter device.Restarter, opts Options, logger *slog.Logger) *Monitor {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 5 * time.Second
	}
	if opts.MaxOutage <= 0 {
		opts.MaxOutage = 2 * time.Minute
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 20 * time.Second
	}
	if opts.StartupPoll <= 0 {
		opts.StartupPoll = 500 * time.Millisecond
	}
	m := &Monitor{
		logger:    logger,
		station:   station,
		restarter: restarter,
		opts:      opts,
		sleep:     sleepWithContext,
	}
	m.setState(model.LinkDisconnected)
	return m
}

// Start blocks until the station reports connectivity or StartupTimeout
// elapses. It runs before any service is started.
func (m *Monitor) Start(ctx context.Context) bool {
	m.setState(model.LinkConnecting)
	if err := m.station.Disconnect(ctx); err != nil {
		m.logger.Debug("link disconnect before startup failed", "error", err)
	}
	if err := m.station.Connect(ctx); err != nil {
		m.logger.Warn("link startup connect failed", "error", err)
	}

	deadline := time.Now().Add(m.opts.StartupTimeout)
	for {
		if m.station.Connected(ctx) {
			m.setState(model.LinkConnected)
			m.logger.Info("link connected", "phase", "startup")
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		m.sleep(ctx, m.opts.StartupPoll)
	}
	m.setState(model.LinkDisconnected)
	m.logger.Error("link startup timed out", "timeout", m.opts.StartupTimeout)
	return false
}

// Escalate requests a device restart. Further calls are ignored.
func (m *Monitor) Escalate(reason string) {
	if m.escalated {
		return
	}
	m.escalated = true
	m.restarter.Restart(reason)
}

func (m *Monitor) CheckAndMaintain(ctx context.Context, now time.Time) {
	if m.escalated {
		return
	}
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.opts.CheckInterval {
		return
	}
	m.lastCheck = now

	if m.station.Connected(ctx) {
		if !m.failureStart.IsZero() {
			m.logger.Info("link recovered", "outage", now.Sub(m.failureStart))
			m.setFailureStart(time.Time{})
		}
		m.setState(model.LinkConnected)
		return
	}

	if m.failureStart.IsZero() {
		m.setFailureStart(now)
		m.logger.Warn("link lost")
	}
	if outage := now.Sub(m.failureStart); outage > m.opts.MaxOutage {
		m.logger.Error("link outage exceeded limit", "outage", outage, "max_outage", m.opts.MaxOutage)
		m.Escalate("link outage exceeded " + m.opts.MaxOutage.String())
		return
	}
	if m.opts.MinAttemptAge > 0 && !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < m.opts.MinAttemptAge {
		m.setState(model.LinkRecovering)
		return
	}

	m.lastAttempt = now
	m.setState(model.LinkRecovering)
	m.reconnects.Add(1)
	metrics.LinkReconnects.Inc()
	if err := m.station.Disconnect(ctx); err != nil {
		m.logger.Warn("link disconnect failed", "error", err)
	}
	if err := m.station.Connect(ctx); err != nil {
		m.logger.Warn("link reconnect failed", "error", err, "failing_for", now.Sub(m.failureStart))
		return
	}
	m.logger.Info("link reconnect issued", "failing_for", now.Sub(m.failureStart))
}

func (m *Monitor) Connected() bool {
	return m.State() == model.LinkConnected
}

func (m *Monitor) State() model.LinkState {
	return model.LinkState(m.state.Load())
}

// FailureStart is zero unless the link is continuously down since the returned time.
func (m *Monitor) FailureStart() time.Time {
	v := m.failingSince.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func (m *Monitor) Status() model.LinkStatus {
	st := model.LinkStatus{State: m.State().String(), Reconnects: m.reconnects.Load()}
	if fs := m.FailureStart(); !fs.IsZero() {
		fs = fs.UTC()
		st.FailingSince = &fs
	}
	return st
}

func (m *Monitor) setState(s model.LinkState) {
	m.state.Store(int32(s))
	metrics.LinkState.Set(float64(s))
}

func (m *Monitor) setFailureStart(ts time.Time) {
	m.failureStart = ts
	if ts.IsZero() {
		m.failingSince.Store(0)
		return
	}
	m.failingSince.Store(ts.UnixNano())
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
