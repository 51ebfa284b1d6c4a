package model

import (
	"bytes"
	"fmt"
	"time"
)

type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatUnknown Format = "unknown"
)

const JPEGMimeType = "image/jpeg"

// Frame is one compressed still image. The holder that acquired it owns Data
// until it hands the frame back to its source.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
	Format     Format
	Seq        uint64
}

func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// CaptureStamp renders CapturedAt as "<seconds>.<micros>" with a six digit fraction.
func (f *Frame) CaptureStamp() string {
	ts := f.CapturedAt
	if ts.IsZero() {
		ts = time.Unix(0, 0)
	}
	micros := ts.UnixMicro()
	sec := micros / 1_000_000
	frac := micros % 1_000_000
	if frac < 0 {
		sec--
		frac += 1_000_000
	}
	return fmt.Sprintf("%d.%06d", sec, frac)
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// SniffFormat recognises complete JPEG images (SOI ... EOI).
func SniffFormat(data []byte) Format {
	if len(data) >= 4 && bytes.HasPrefix(data, jpegSOI) && bytes.HasSuffix(data, jpegEOI) {
		return FormatJPEG
	}
	return FormatUnknown
}
