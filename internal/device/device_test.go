package device

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatIdentity(t *testing.T) {
	got := FormatIdentity("CAM", []byte{0x24, 0x6f, 0x28, 0xaa, 0xbb, 0xcc})
	if !regexp.MustCompile(`^CAM-[0-9A-F]{8}$`).MatchString(got) {
		t.Fatalf("identity %q does not match PREFIX-XXXXXXXX", got)
	}
	if again := FormatIdentity("CAM", []byte{0x24, 0x6f, 0x28, 0xaa, 0xbb, 0xcc}); again != got {
		t.Fatalf("identity not stable: %q vs %q", got, again)
	}
}

func TestIdentity_Cached(t *testing.T) {
	first := Identity("CAM", "")
	second := Identity("OTHER", "eth9")
	if first != second {
		t.Fatalf("identity changed within process: %q -> %q", first, second)
	}
}

func TestFlash_WritesLED(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brightness")
	f := NewFlash(path, discardLogger())
	f.SetBrightness(200)
	if f.Brightness() != 200 {
		t.Fatalf("Brightness()=%d", f.Brightness())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read led: %v", err)
	}
	if string(raw) != "200\n" {
		t.Fatalf("led content=%q", raw)
	}
}

func TestExitRestarter_UsesRestartCode(t *testing.T) {
	code := -1
	r := NewExitRestarter(discardLogger())
	r.exit = func(c int) { code = c }
	r.Restart("test")
	if code != exitCodeRestart {
		t.Fatalf("exit code=%d", code)
	}
}
