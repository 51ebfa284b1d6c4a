package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"camlink-agent/internal/model"
)

var errSchedulerStopped = errors.New("scheduler stopped")

type linkMaintainer interface {
	CheckAndMaintain(ctx context.Context, now time.Time)
}

type tickable interface {
	Tick(ctx context.Context, now time.Time)
}

type uploader interface {
	Tick(ctx context.Context, now time.Time)
	Upload(ctx context.Context, f *model.Frame) error
}

type uploadRequest struct {
	reply chan error
}

// Scheduler runs every periodic component on one goroutine in a fixed order:
// link, stream, upload cadence, telemetry. Nil components are skipped.
type Scheduler struct {
	logger    *slog.Logger
	link      linkMaintainer
	stream    tickable
	upload    uploader
	cadence   bool
	telemetry tickable
	health    *HealthStatus
	interval  time.Duration

	triggers chan uploadRequest
	stopped  chan struct{}
	now      func() time.Time
}

type SchedulerOptions struct {
	Interval      time.Duration
	UploadCadence bool
}

func NewScheduler(logger *slog.Logger, link linkMaintainer, stream tickable, upload uploader, telemetry tickable, health *HealthStatus, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 50 * time.Millisecond
	}
	if health == nil {
		health = NewHealthStatus(0)
	}
	return &Scheduler{
		logger:    logger,
		link:      link,
		stream:    stream,
		upload:    upload,
		cadence:   opts.UploadCadence,
		telemetry: telemetry,
		health:    health,
		interval:  opts.Interval,
		triggers:  make(chan uploadRequest),
		stopped:   make(chan struct{}),
		now:       time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		case req := <-s.triggers:
			req.reply <- s.runUpload(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if s.link != nil {
		s.link.CheckAndMaintain(ctx, now)
	}
	if s.stream != nil {
		s.stream.Tick(ctx, now)
	}
	if s.upload != nil && s.cadence {
		s.upload.Tick(ctx, now)
	}
	if s.telemetry != nil {
		s.telemetry.Tick(ctx, now)
	}
	s.health.MarkTick(now)
}

func (s *Scheduler) runUpload(ctx context.Context) error {
	if s.upload == nil {
		return errors.New("upload pipeline not configured")
	}
	return s.upload.Upload(ctx, nil)
}

// TriggerUpload hands an on-demand upload to the scheduler goroutine and
// waits for its outcome.
func (s *Scheduler) TriggerUpload(ctx context.Context) error {
	req := uploadRequest{reply: make(chan error, 1)}
	select {
	case s.triggers <- req:
	case <-s.stopped:
		return errSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
