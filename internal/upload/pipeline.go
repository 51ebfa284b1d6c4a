package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"camlink-agent/internal/frame"
	"camlink-agent/internal/metrics"
	"camlink-agent/internal/model"
)

const (
	HeaderDeviceID  = "X-Device-ID"
	HeaderAPIKey    = "X-API-Key"
	HeaderTimestamp = "X-Timestamp"
)

// Gate reports whether network I/O is currently allowed.
type Gate interface {
	Connected() bool
}

type Options struct {
	URL      string
	APIKey   string
	DeviceID string
	Interval time.Duration
	Timeout  time.Duration
}

type Pipeline struct {
	logger *slog.Logger
	client *http.Client
	source frame.Source
	gate   Gate
	opts   Options

	lastRun time.Time

	success atomic.Uint32
	failure atomic.Uint32
}

func NewPipeline(client *http.Client, source frame.Source, gate Gate, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	if client == nil {
		client = NewHTTPClient(nil, opts.Timeout)
	}
	return &Pipeline{
		logger: logger,
		client: client,
		source: source,
		gate:   gate,
		opts:   opts,
	}
}

// Upload sends one frame. When f is nil a frame is acquired from the source
// and released before returning; a caller-supplied frame stays with the caller.
func (p *Pipeline) Upload(ctx context.Context, f *model.Frame) error {
	err := p.upload(ctx, f)
	if err != nil {
		p.failure.Add(1)
		metrics.UploadsTotal.WithLabelValues(failureLabel(err)).Inc()
		p.logger.Warn("frame upload failed", "error", err, "failures", p.failure.Load())
		return err
	}
	p.success.Add(1)
	metrics.UploadsTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *Pipeline) upload(ctx context.Context, f *model.Frame) error {
	if !p.gate.Connected() {
		return ErrNotConnected
	}
	if f == nil {
		acquired, err := p.source.Acquire(ctx)
		if err != nil {
			if errors.Is(err, frame.ErrNoFrame) {
				return ErrNoFrame
			}
			return fmt.Errorf("acquire frame: %w", err)
		}
		defer p.source.Release(acquired)
		f = acquired
	}
	if f.Format != model.FormatJPEG {
		return fmt.Errorf("%w: %s", ErrFormat, f.Format)
	}
	return p.send(ctx, f)
}

func (p *Pipeline) send(ctx context.Context, f *model.Frame) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.opts.URL, bytes.NewReader(f.Data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = int64(len(f.Data))
	req.Header.Set("Content-Type", model.JPEGMimeType)
	req.Header.Set(HeaderDeviceID, p.opts.DeviceID)
	if p.opts.APIKey != "" {
		req.Header.Set(HeaderAPIKey, p.opts.APIKey)
	}
	req.Header.Set(HeaderTimestamp, f.CaptureStamp())

	timer := prometheus.NewTimer(metrics.UploadDuration)
	resp, err := p.client.Do(req)
	timer.ObserveDuration()
	if err != nil {
		return fmt.Errorf("post %s: %w", p.opts.URL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	p.logger.Info("frame uploaded", "bytes", len(f.Data), "status", resp.StatusCode, "seq", f.Seq)
	return nil
}

// Tick fires a cadence upload once Interval has elapsed since the previous
// one. Interval zero disables the cadence.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) {
	if p.opts.Interval == 0 {
		return
	}
	if p.lastRun.IsZero() {
		p.lastRun = now
		return
	}
	if now.Sub(p.lastRun) < p.opts.Interval {
		return
	}
	p.lastRun = now
	_ = p.Upload(ctx, nil)
}

func (p *Pipeline) SuccessCount() uint32 {
	return p.success.Load()
}

func (p *Pipeline) FailureCount() uint32 {
	return p.failure.Load()
}

func (p *Pipeline) Stats() model.UploadStats {
	return model.UploadStats{SuccessCount: p.success.Load(), FailureCount: p.failure.Load()}
}

func failureLabel(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrNoFrame):
		return "no_frame"
	case errors.As(err, &se):
		return "status"
	default:
		return "transport"
	}
}
