package frame

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"camlink-agent/internal/model"
)

// SnapshotSource pulls one frame per Acquire from a local camera snapshot URL.
type SnapshotSource struct {
	url     string
	client  *http.Client
	timeout time.Duration
	pool    *pool
	now     func() time.Time
}

func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SnapshotSource{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		pool:    newPool(),
		now:     time.Now,
	}
}

func (s *SnapshotSource) Acquire(ctx context.Context) (*model.Frame, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, ErrNoFrame
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("snapshot %s: status %d", s.url, resp.StatusCode)
	}

	f := s.pool.get()
	buf, err := readAllInto(f.Data, io.LimitReader(resp.Body, maxFrameBytes+1))
	f.Data = buf[:0]
	if err != nil {
		s.pool.discard(f)
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(buf) == 0 || len(buf) > maxFrameBytes {
		s.pool.discard(f)
		return nil, fmt.Errorf("snapshot size %d out of range", len(buf))
	}
	f.Data = buf
	f.CapturedAt = s.now()
	f.Format = model.SniffFormat(buf)
	if f.Format == model.FormatUnknown {
		if mt, _, perr := mime.ParseMediaType(resp.Header.Get("Content-Type")); perr == nil && mt == model.JPEGMimeType {
			// Some cameras omit the trailing EOI marker.
			f.Format = model.FormatJPEG
		}
	}
	return f, nil
}

func (s *SnapshotSource) Release(f *model.Frame) {
	s.pool.put(f)
}

func (s *SnapshotSource) Outstanding() int64 {
	return s.pool.Outstanding()
}
