package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"camlink-agent/internal/model"
)

type fakeGate struct{ up bool }

func (g fakeGate) Connected() bool { return g.up }

func newTestPublisher(gate Gate, calls *atomic.Int32) *Publisher {
	opts := Options{
		Broker:   "tcp://127.0.0.1:1",
		Topic:    "camlink/status",
		DeviceID: "CAM-00000001",
		Interval: time.Minute,
		Timeout:  time.Second,
	}
	snap := func() model.Status {
		calls.Add(1)
		return model.Status{DeviceID: "CAM-00000001"}
	}
	return NewPublisher(opts, gate, snap, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTick_LinkDownSkips(t *testing.T) {
	var calls atomic.Int32
	p := newTestPublisher(fakeGate{up: false}, &calls)
	defer p.Close()

	p.Tick(context.Background(), time.Unix(1_700_000_000, 0))
	if p.Failures() != 0 || p.Published() != 0 {
		t.Fatalf("publisher acted while link down: failures=%d published=%d", p.Failures(), p.Published())
	}
}

func TestTick_UnreachableBrokerCountsOncePerInterval(t *testing.T) {
	var calls atomic.Int32
	p := newTestPublisher(fakeGate{up: true}, &calls)
	defer p.Close()
	base := time.Unix(1_700_000_000, 0)

	p.Tick(context.Background(), base)
	p.Tick(context.Background(), base.Add(10*time.Second))
	if p.Failures() != 1 {
		t.Fatalf("failures=%d want 1", p.Failures())
	}
	if calls.Load() != 0 {
		t.Fatalf("snapshot built without a broker connection")
	}
	p.Tick(context.Background(), base.Add(time.Minute))
	if p.Failures() != 2 {
		t.Fatalf("failures=%d want 2 after interval", p.Failures())
	}
}
