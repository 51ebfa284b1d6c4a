package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"camlink-agent/internal/model"
)

type WebSocketTransport struct {
	logger       *slog.Logger
	tlsConfig    *tls.Config
	pingInterval time.Duration
	readLimit    int64
}

func NewWebSocketTransport(tlsCfg *tls.Config, pingInterval time.Duration, logger *slog.Logger) *WebSocketTransport {
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	return &WebSocketTransport{
		logger:       logger,
		tlsConfig:    tlsCfg,
		pingInterval: pingInterval,
		readLimit:    1 << 20,
	}
}

func (t *WebSocketTransport) Dial(ctx context.Context, target Target, emit EventFunc) (Session, error) {
	h := http.Header{}
	h.Set("X-Device-ID", target.DeviceID)
	opt := &websocket.DialOptions{HTTPHeader: h}
	if t.tlsConfig != nil {
		opt.HTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: t.tlsConfig}}
	}
	conn, _, err := websocket.Dial(ctx, target.URL, opt)
	if err != nil {
		// url.Error embeds the raw URL, which carries the api key.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("websocket dial %s: %w", redactURL(target.URL), err)
	}
	conn.SetReadLimit(t.readLimit)

	sctx, cancel := context.WithCancel(context.Background())
	s := &wsSession{conn: conn, cancel: cancel}
	go s.readLoop(sctx, emit)
	go s.pingLoop(sctx, t.pingInterval, t.logger)
	return s, nil
}

type wsSession struct {
	conn      *websocket.Conn
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *wsSession) WriteFrame(ctx context.Context, f *model.Frame) error {
	if err := s.conn.Write(ctx, websocket.MessageBinary, f.Data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			_ = s.conn.Close(websocket.StatusNormalClosure, "closing")
		}()
	})
	return nil
}

func (s *wsSession) readLoop(ctx context.Context, emit EventFunc) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				emit(Event{Kind: EventDisconnected, Err: err})
			}
			return
		}
		kind := EventBinary
		if typ == websocket.MessageText {
			kind = EventText
		}
		emit(Event{Kind: kind, Payload: data})
	}
}

func (s *wsSession) pingLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
			if err := s.conn.Ping(pingCtx); err != nil && ctx.Err() == nil {
				logger.Debug("websocket ping failed", "error", err)
			}
			pingCancel()
		}
	}
}

// WebSocketURL builds <scheme>://host:port<path>/<device-id>?api_key=<secret>.
func WebSocketURL(secure bool, host string, port int, path, deviceID, apiKey string) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   strings.TrimRight(path, "/") + "/" + deviceID,
	}
	q := url.Values{}
	q.Set("api_key", apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}
