package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"camlink-agent/internal/model"
)

var jpegBytes = []byte{0xFF, 0xD8, 0x10, 0x20, 0xFF, 0xD9}

type fakeGate struct{ up atomic.Bool }

func (g *fakeGate) Connected() bool { return g.up.Load() }

func upGate() *fakeGate {
	g := &fakeGate{}
	g.up.Store(true)
	return g
}

type fakeSource struct {
	format   model.Format
	acquired int
	released int
}

func (s *fakeSource) Acquire(ctx context.Context) (*model.Frame, error) {
	s.acquired++
	return &model.Frame{Data: jpegBytes, Format: s.format}, nil
}

func (s *fakeSource) Release(f *model.Frame) {
	s.released++
}

type fakeSession struct {
	mu       sync.Mutex
	writes   int
	writeErr error
	closed   bool
}

func (s *fakeSession) WriteFrame(ctx context.Context, f *model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeTransport struct {
	dials   atomic.Int32
	block   bool
	err     error
	session *fakeSession
	emitMu  sync.Mutex
	emit    EventFunc
}

func (t *fakeTransport) Dial(ctx context.Context, target Target, emit EventFunc) (Session, error) {
	t.dials.Add(1)
	t.emitMu.Lock()
	t.emit = emit
	t.emitMu.Unlock()
	if t.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.session, nil
}

func (t *fakeTransport) lastEmit() EventFunc {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	return t.emit
}

var t0 = time.Unix(1_700_000_000, 0)

func at(d time.Duration) time.Time { return t0.Add(d) }

func newTestPusher(tr Transport, src *fakeSource, gate Gate, opts Options) *Pusher {
	if opts.FrameInterval == 0 {
		opts.FrameInterval = 100 * time.Millisecond
	}
	if opts.ReconnectCooldown == 0 {
		opts.ReconnectCooldown = 5 * time.Second
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	target := Target{URL: "ws://collector:8000/ws/stream/CAM-00000001?api_key=k", DeviceID: "CAM-00000001", APIKey: "k"}
	return NewPusher(tr, src, gate, target, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitEvents(t *testing.T, p *Pusher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(p.events) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d session events", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func connectPusher(t *testing.T, p *Pusher, now time.Time) {
	t.Helper()
	p.Tick(context.Background(), now)
	waitEvents(t, p, 1)
	p.drainEvents()
	if p.State() != model.SessionActive {
		t.Fatalf("state=%s want active", p.State())
	}
}

func TestTick_LinkDownNoDial(t *testing.T) {
	tr := &fakeTransport{session: &fakeSession{}}
	p := newTestPusher(tr, &fakeSource{format: model.FormatJPEG}, &fakeGate{}, Options{})
	defer p.Close()

	for i := 0; i < 10; i++ {
		p.Tick(context.Background(), at(time.Duration(i)*time.Minute))
	}
	if tr.dials.Load() != 0 || p.State() != model.SessionIdle {
		t.Fatalf("dials=%d state=%s with link down", tr.dials.Load(), p.State())
	}
}

func TestTick_ReconnectCooldown(t *testing.T) {
	tr := &fakeTransport{block: true}
	p := newTestPusher(tr, &fakeSource{format: model.FormatJPEG}, upGate(), Options{ReconnectCooldown: 5 * time.Second})
	defer p.Close()
	ctx := context.Background()

	p.Tick(ctx, at(0))
	if p.State() != model.SessionConnecting {
		t.Fatalf("state=%s want connecting", p.State())
	}
	if !p.LastReconnectAttempt().Equal(at(0)) {
		t.Fatalf("lastReconnectAttempt=%v", p.LastReconnectAttempt())
	}
	if got := p.Stats().ConnectAttempts; got != 1 {
		t.Fatalf("attempts=%d", got)
	}

	for _, d := range []time.Duration{time.Second, 3 * time.Second, 4999 * time.Millisecond} {
		p.Tick(ctx, at(d))
	}
	if got := p.Stats().ConnectAttempts; got != 1 {
		t.Fatalf("attempts=%d within cooldown", got)
	}
	if !p.LastReconnectAttempt().Equal(at(0)) {
		t.Fatalf("lastReconnectAttempt moved within cooldown")
	}

	p.Tick(ctx, at(5*time.Second))
	if got := p.Stats().ConnectAttempts; got != 2 {
		t.Fatalf("attempts=%d after cooldown", got)
	}
}

func TestTick_FailedDialReturnsToIdle(t *testing.T) {
	tr := &fakeTransport{err: errors.New("connection refused")}
	p := newTestPusher(tr, &fakeSource{format: model.FormatJPEG}, upGate(), Options{})
	defer p.Close()

	p.Tick(context.Background(), at(0))
	waitEvents(t, p, 1)
	p.Tick(context.Background(), at(time.Second))
	if p.State() != model.SessionIdle {
		t.Fatalf("state=%s want idle", p.State())
	}
	if tr.dials.Load() != 1 {
		t.Fatalf("dials=%d, cooldown not respected", tr.dials.Load())
	}
}

func TestTick_FrameCadence(t *testing.T) {
	sess := &fakeSession{}
	src := &fakeSource{format: model.FormatJPEG}
	p := newTestPusher(&fakeTransport{session: sess}, src, upGate(), Options{FrameInterval: 100 * time.Millisecond})
	defer p.Close()
	connectPusher(t, p, at(0))

	var sentAt []time.Time
	for ms := 1; ms <= 1000; ms += 7 {
		now := at(time.Duration(ms) * time.Millisecond)
		before := p.Stats().FramesSent
		p.Tick(context.Background(), now)
		if p.Stats().FramesSent > before {
			sentAt = append(sentAt, now)
		}
	}
	if len(sentAt) < 5 {
		t.Fatalf("only %d frames sent", len(sentAt))
	}
	for i := 1; i < len(sentAt); i++ {
		if gap := sentAt[i].Sub(sentAt[i-1]); gap < 100*time.Millisecond {
			t.Fatalf("frames %d and %d only %s apart", i-1, i, gap)
		}
	}
	if src.acquired != src.released {
		t.Fatalf("acquired=%d released=%d", src.acquired, src.released)
	}
	if sess.writes != len(sentAt) {
		t.Fatalf("writes=%d sent=%d", sess.writes, len(sentAt))
	}
}

func TestTick_FormatMismatchDropped(t *testing.T) {
	sess := &fakeSession{}
	src := &fakeSource{format: model.FormatUnknown}
	p := newTestPusher(&fakeTransport{session: sess}, src, upGate(), Options{})
	defer p.Close()
	connectPusher(t, p, at(0))

	p.Tick(context.Background(), at(time.Second))
	if sess.writes != 0 {
		t.Fatalf("wrote a non-jpeg frame")
	}
	if p.Stats().FramesDropped != 1 {
		t.Fatalf("dropped=%d", p.Stats().FramesDropped)
	}
	if src.acquired != 1 || src.released != 1 {
		t.Fatalf("acquired=%d released=%d", src.acquired, src.released)
	}
	if p.State() != model.SessionActive {
		t.Fatalf("format mismatch should not drop the session, state=%s", p.State())
	}
}

func TestTick_WriteFailureDropsSession(t *testing.T) {
	sess := &fakeSession{writeErr: errors.New("broken pipe")}
	tr := &fakeTransport{session: sess}
	src := &fakeSource{format: model.FormatJPEG}
	p := newTestPusher(tr, src, upGate(), Options{ReconnectCooldown: time.Second})
	defer p.Close()
	connectPusher(t, p, at(0))

	p.Tick(context.Background(), at(2*time.Second))
	if p.State() != model.SessionIdle {
		t.Fatalf("state=%s want idle after write failure", p.State())
	}
	if !sess.isClosed() {
		t.Fatalf("session not closed after write failure")
	}
	if src.acquired != src.released {
		t.Fatalf("acquired=%d released=%d", src.acquired, src.released)
	}

	p.Tick(context.Background(), at(3*time.Second))
	if tr.dials.Load() != 2 {
		t.Fatalf("dials=%d want reconnect after drop", tr.dials.Load())
	}
}

func TestTick_RemoteDisconnect(t *testing.T) {
	sess := &fakeSession{}
	tr := &fakeTransport{session: sess}
	p := newTestPusher(tr, &fakeSource{format: model.FormatJPEG}, upGate(), Options{})
	defer p.Close()
	connectPusher(t, p, at(0))

	emit := tr.lastEmit()
	emit(Event{Kind: EventText, Payload: []byte("hello")})
	emit(Event{Kind: EventDisconnected, Err: io.EOF})
	p.drainEvents()
	if p.State() != model.SessionIdle {
		t.Fatalf("state=%s want idle", p.State())
	}
	if !sess.isClosed() {
		t.Fatalf("session not closed on disconnect")
	}
}

func TestHandle_StaleSessionClosed(t *testing.T) {
	p := newTestPusher(&fakeTransport{}, &fakeSource{}, upGate(), Options{})
	defer p.Close()

	stale := &fakeSession{}
	p.gen = 3
	p.handle(Event{Kind: EventConnected, Session: stale, gen: 2})
	if p.State() != model.SessionIdle {
		t.Fatalf("stale connect changed state to %s", p.State())
	}
	if !stale.isClosed() {
		t.Fatalf("stale session left open")
	}
}
