package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"camlink-agent/internal/model"
)

type fakeControl struct {
	duty     uint8
	ok       bool
	triggers int
	stats    model.UploadStats
	healthy  bool
}

func (f *fakeControl) SetBrightness(d uint8) { f.duty = d }
func (f *fakeControl) Brightness() uint8     { return f.duty }
func (f *fakeControl) TriggerUpload(ctx context.Context) bool {
	f.triggers++
	if f.ok {
		f.stats.SuccessCount++
	} else {
		f.stats.FailureCount++
	}
	return f.ok
}
func (f *fakeControl) Stats() model.UploadStats { return f.stats }
func (f *fakeControl) Status() model.Status {
	return model.Status{DeviceID: "CAM-00000001", Upload: f.stats, Brightness: f.duty}
}
func (f *fakeControl) Healthy() bool { return f.healthy }

func newTestServer(ctl Control) http.Handler {
	return New("127.0.0.1:0", ctl, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	ctl := &fakeControl{healthy: true}
	h := newTestServer(ctl)
	if w := do(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthy code=%d", w.Code)
	}
	ctl.healthy = false
	if w := do(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("stalled code=%d", w.Code)
	}
}

func TestTriggerUpload(t *testing.T) {
	ctl := &fakeControl{ok: true}
	h := newTestServer(ctl)

	w := do(t, h, http.MethodPost, "/api/upload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool              `json:"success"`
		Upload  model.UploadStats `json:"upload"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Upload.SuccessCount != 1 {
		t.Fatalf("resp=%+v", resp)
	}

	ctl.ok = false
	if w := do(t, h, http.MethodPost, "/api/upload", ""); w.Code != http.StatusBadGateway {
		t.Fatalf("failed upload code=%d", w.Code)
	}
	if ctl.triggers != 2 {
		t.Fatalf("triggers=%d", ctl.triggers)
	}
}

func TestFlash(t *testing.T) {
	ctl := &fakeControl{}
	h := newTestServer(ctl)

	if w := do(t, h, http.MethodPut, "/api/flash", `{"duty":128}`); w.Code != http.StatusOK {
		t.Fatalf("set code=%d body=%s", w.Code, w.Body.String())
	}
	if ctl.duty != 128 {
		t.Fatalf("duty=%d", ctl.duty)
	}
	w := do(t, h, http.MethodGet, "/api/flash", "")
	if !strings.Contains(w.Body.String(), `"duty":128`) {
		t.Fatalf("get body=%s", w.Body.String())
	}
	for _, body := range []string{`{"duty":300}`, `{"duty":-1}`, `{}`, `not json`} {
		if w := do(t, h, http.MethodPut, "/api/flash", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s code=%d", body, w.Code)
		}
	}
	if ctl.duty != 128 {
		t.Fatalf("invalid request changed duty to %d", ctl.duty)
	}
}

func TestStatus(t *testing.T) {
	ctl := &fakeControl{duty: 7, stats: model.UploadStats{SuccessCount: 3, FailureCount: 1}}
	w := do(t, newTestServer(ctl), http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	var st model.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.DeviceID != "CAM-00000001" || st.Upload.SuccessCount != 3 || st.Brightness != 7 {
		t.Fatalf("status=%+v", st)
	}
}

func TestMetricsExposed(t *testing.T) {
	w := do(t, newTestServer(&fakeControl{}), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
}
