package frame

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"camlink-agent/internal/model"
)

const maxFrameBytes = 4 << 20

// DirSource serves the newest JPEG file a camera process drops into a directory.
type DirSource struct {
	dir  string
	pool *pool
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, pool: newPool()}
}

func (s *DirSource) Acquire(ctx context.Context) (*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, modTime, err := s.newest()
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer fh.Close()

	f := s.pool.get()
	buf := f.Data
	if cap(buf) == 0 {
		buf = make([]byte, 0, 64<<10)
	}
	buf, err = readAllInto(buf, io.LimitReader(fh, maxFrameBytes+1))
	if err != nil {
		f.Data = buf[:0]
		s.pool.discard(f)
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	if len(buf) > maxFrameBytes {
		f.Data = buf[:0]
		s.pool.discard(f)
		return nil, fmt.Errorf("frame %s exceeds %d bytes", path, maxFrameBytes)
	}
	if len(buf) == 0 {
		f.Data = buf[:0]
		s.pool.discard(f)
		return nil, ErrNoFrame
	}
	f.Data = buf
	f.CapturedAt = modTime
	f.Format = model.SniffFormat(buf)
	return f, nil
}

func (s *DirSource) Release(f *model.Frame) {
	s.pool.put(f)
}

func (s *DirSource) Outstanding() int64 {
	return s.pool.Outstanding()
}

func (s *DirSource) newest() (string, time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("list frame dir %s: %w", s.dir, err)
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".jpg" && ext != ".jpeg" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(s.dir, e.Name())
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", time.Time{}, ErrNoFrame
	}
	return best, bestMod, nil
}

func readAllInto(buf []byte, r io.Reader) ([]byte, error) {
	for {
		if len(buf) == cap(buf) {
			buf = append(buf, 0)[:len(buf)]
		}
		n, err := r.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return buf, err
		}
	}
}
