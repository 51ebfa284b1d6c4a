package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"camlink-agent/internal/model"
)

type Gate interface {
	Connected() bool
}

type Options struct {
	Broker   string
	Topic    string
	DeviceID string
	BootID   string
	Interval time.Duration
	Timeout  time.Duration
}

// Publisher periodically publishes the status snapshot to an MQTT broker.
// Tick runs on the scheduler goroutine; paho callbacks only flip the
// connected flag.
type Publisher struct {
	logger   *slog.Logger
	opts     Options
	gate     Gate
	snapshot func() model.Status
	client   mqtt.Client

	pending   mqtt.Token
	connected atomic.Bool
	lastRun   time.Time
	published atomic.Uint64
	failures  atomic.Uint64
}

func NewPublisher(opts Options, gate Gate, snapshot func() model.Status, logger *slog.Logger) *Publisher {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	p := &Publisher{logger: logger, opts: opts, gate: gate, snapshot: snapshot}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID("camlink-" + opts.DeviceID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(false)
	co.SetConnectTimeout(opts.Timeout)
	co.SetWriteTimeout(opts.Timeout)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		p.connected.Store(true)
		p.logger.Info("mqtt connection established", "broker", opts.Broker)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.connected.Store(false)
		p.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", opts.Broker, "error", err)
	}
	p.client = mqtt.NewClient(co)
	return p
}

func (p *Publisher) Tick(ctx context.Context, now time.Time) {
	if !p.gate.Connected() {
		return
	}
	if !p.lastRun.IsZero() && now.Sub(p.lastRun) < p.opts.Interval {
		return
	}
	p.lastRun = now
	if err := p.publish(now); err != nil {
		p.failures.Add(1)
		p.logger.Warn("status publish failed", "error", err)
	}
}

func (p *Publisher) publish(now time.Time) error {
	if !p.client.IsConnectionOpen() {
		if p.pending == nil {
			p.pending = p.client.Connect()
		}
		if !p.pending.WaitTimeout(p.opts.Timeout) {
			return errors.New("mqtt connection timeout")
		}
		err := p.pending.Error()
		p.pending = nil
		if err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
	}

	payload, err := json.Marshal(model.Envelope{
		Type:          model.MessageTypeStatus,
		DeviceID:      p.opts.DeviceID,
		BootID:        p.opts.BootID,
		TimestampUnix: now.Unix(),
		Payload:       p.snapshot(),
	})
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	topic := p.opts.Topic + "/" + p.opts.DeviceID
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(p.opts.Timeout) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.published.Add(1)
	return nil
}

func (p *Publisher) Published() uint64 {
	return p.published.Load()
}

func (p *Publisher) Failures() uint64 {
	return p.failures.Load()
}

func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
