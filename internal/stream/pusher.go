package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"camlink-agent/internal/frame"
	"camlink-agent/internal/metrics"
	"camlink-agent/internal/model"
)

type Gate interface {
	Connected() bool
}

type Options struct {
	FrameInterval     time.Duration
	ReconnectCooldown time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	EventBuffer       int
}

// Pusher streams the freshest frame to a collector session at a bounded
// cadence. Tick and Close must be called from the same goroutine.
type Pusher struct {
	logger    *slog.Logger
	transport Transport
	source    frame.Source
	gate      Gate
	target    Target
	opts      Options

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	gen                  uint64
	session              Session
	cancelDial           context.CancelFunc
	lastFrameSent        time.Time
	lastReconnectAttempt time.Time

	state           atomic.Int32
	framesSent      atomic.Uint64
	framesDropped   atomic.Uint64
	connectAttempts atomic.Uint64
}

func NewPusher(transport Transport, source frame.Source, gate Gate, target Target, opts Options, logger *slog.Logger) *Pusher {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 200 * time.Millisecond
	}
	if opts.ReconnectCooldown <= 0 {
		opts.ReconnectCooldown = 5 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 32
	}
	p := &Pusher{
		logger:    logger,
		transport: transport,
		source:    source,
		gate:      gate,
		target:    target,
		opts:      opts,
		events:    make(chan Event, opts.EventBuffer),
		done:      make(chan struct{}),
	}
	p.state.Store(int32(model.SessionIdle))
	return p
}

func (p *Pusher) Tick(ctx context.Context, now time.Time) {
	p.drainEvents()
	if !p.gate.Connected() {
		return
	}
	if !p.lastFrameSent.IsZero() && now.Sub(p.lastFrameSent) < p.opts.FrameInterval {
		return
	}
	if p.State() == model.SessionActive {
		p.pushFrame(ctx, now)
		return
	}
	if !p.lastReconnectAttempt.IsZero() && now.Sub(p.lastReconnectAttempt) < p.opts.ReconnectCooldown {
		return
	}
	p.connect(ctx, now)
}

func (p *Pusher) pushFrame(ctx context.Context, now time.Time) {
	f, err := p.source.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, frame.ErrNoFrame) {
			p.logger.Warn("stream frame acquire failed", "error", err)
		}
		return
	}
	defer p.source.Release(f)

	if f.Format != model.FormatJPEG {
		p.framesDropped.Add(1)
		metrics.StreamFramesTotal.WithLabelValues("dropped").Inc()
		p.logger.Debug("stream frame dropped", "format", f.Format, "seq", f.Seq)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
	defer cancel()
	if err := p.session.WriteFrame(wctx, f); err != nil {
		metrics.StreamFramesTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("stream write failed, dropping session", "error", err)
		p.dropSession()
		return
	}
	p.lastFrameSent = now
	p.framesSent.Add(1)
	metrics.StreamFramesTotal.WithLabelValues("sent").Inc()
}

func (p *Pusher) connect(ctx context.Context, now time.Time) {
	if p.cancelDial != nil {
		p.cancelDial()
	}
	p.gen++
	gen := p.gen
	p.lastReconnectAttempt = now
	p.setState(model.SessionConnecting)
	p.connectAttempts.Add(1)
	metrics.StreamConnectAttempts.Inc()
	p.logger.Info("stream connecting", "url", redactURL(p.target.URL), "attempt", p.connectAttempts.Load())

	dialCtx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
	p.cancelDial = cancel
	emit := func(ev Event) {
		ev.gen = gen
		p.post(ev)
	}
	go func() {
		defer cancel()
		sess, err := p.transport.Dial(dialCtx, p.target, emit)
		if err != nil {
			emit(Event{Kind: EventDisconnected, Err: err})
			return
		}
		emit(Event{Kind: EventConnected, Session: sess})
	}()
}

// post delivers session lifecycle events reliably and drops message
// notifications when the buffer is full.
func (p *Pusher) post(ev Event) {
	switch ev.Kind {
	case EventConnected, EventDisconnected:
		select {
		case p.events <- ev:
		case <-p.done:
			if ev.Session != nil {
				_ = ev.Session.Close()
			}
		}
	default:
		select {
		case p.events <- ev:
		default:
		}
	}
}

func (p *Pusher) drainEvents() {
	for {
		select {
		case ev := <-p.events:
			p.handle(ev)
		default:
			return
		}
	}
}

func (p *Pusher) handle(ev Event) {
	if ev.gen != p.gen {
		if ev.Session != nil {
			_ = ev.Session.Close()
		}
		return
	}
	switch ev.Kind {
	case EventConnected:
		p.cancelDial = nil
		p.session = ev.Session
		p.setState(model.SessionActive)
		p.logger.Info("stream connected", "url", redactURL(p.target.URL))
	case EventDisconnected:
		p.cancelDial = nil
		if p.session != nil {
			_ = p.session.Close()
			p.session = nil
		}
		p.setState(model.SessionIdle)
		p.logger.Warn("stream disconnected", "error", ev.Err)
	case EventText:
		p.logger.Info("stream message", "text", string(ev.Payload))
	case EventBinary:
		p.logger.Debug("stream binary message", "bytes", len(ev.Payload))
	case EventError:
		p.logger.Warn("stream error", "error", ev.Err)
	}
}

func (p *Pusher) dropSession() {
	p.gen++
	if p.session != nil {
		_ = p.session.Close()
		p.session = nil
	}
	p.setState(model.SessionIdle)
}

func (p *Pusher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.cancelDial != nil {
			p.cancelDial()
			p.cancelDial = nil
		}
		p.dropSession()
	})
}

func (p *Pusher) State() model.SessionState {
	return model.SessionState(p.state.Load())
}

func (p *Pusher) LastReconnectAttempt() time.Time {
	return p.lastReconnectAttempt
}

func (p *Pusher) Stats() model.StreamStats {
	return model.StreamStats{
		State:           p.State().String(),
		FramesSent:      p.framesSent.Load(),
		FramesDropped:   p.framesDropped.Load(),
		ConnectAttempts: p.connectAttempts.Load(),
	}
}

func (p *Pusher) setState(s model.SessionState) {
	p.state.Store(int32(s))
}
