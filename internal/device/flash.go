package device

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

// Flash holds the LED duty shared with the control layer.
type Flash struct {
	duty    atomic.Uint32
	ledPath string
	logger  *slog.Logger
}

func NewFlash(ledPath string, logger *slog.Logger) *Flash {
	return &Flash{ledPath: ledPath, logger: logger}
}

func (f *Flash) SetBrightness(duty uint8) {
	f.duty.Store(uint32(duty))
	if f.ledPath == "" {
		return
	}
	if err := os.WriteFile(f.ledPath, []byte(strconv.Itoa(int(duty))+"\n"), 0o644); err != nil {
		f.logger.Warn("led brightness write failed", "path", f.ledPath, "error", fmt.Errorf("write led: %w", err))
	}
}

func (f *Flash) Brightness() uint8 {
	return uint8(f.duty.Load())
}
