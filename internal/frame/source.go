package frame

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"camlink-agent/internal/model"
)

var ErrNoFrame = errors.New("no frame available")

// Source hands out the freshest frame. Every successful Acquire must be
// paired with exactly one Release.
type Source interface {
	Acquire(ctx context.Context) (*model.Frame, error)
	Release(f *model.Frame)
}

// pool recycles frame buffers and tracks frames that are out on loan.
type pool struct {
	frames      sync.Pool
	seq         atomic.Uint64
	outstanding atomic.Int64
}

func newPool() *pool {
	return &pool{frames: sync.Pool{New: func() any { return &model.Frame{} }}}
}

func (p *pool) get() *model.Frame {
	f := p.frames.Get().(*model.Frame)
	f.Data = f.Data[:0]
	f.Seq = p.seq.Add(1)
	p.outstanding.Add(1)
	return f
}

// discard returns a frame that never left the source.
func (p *pool) discard(f *model.Frame) {
	p.put(f)
}

func (p *pool) put(f *model.Frame) {
	if f == nil {
		return
	}
	p.outstanding.Add(-1)
	f.CapturedAt = time.Time{}
	f.Format = model.FormatUnknown
	p.frames.Put(f)
}

func (p *pool) Outstanding() int64 {
	return p.outstanding.Load()
}
