package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"camlink-agent/internal/config"
)

func NewTransportFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Transport, error) {
	switch cfg.Stream.Mode {
	case config.StreamModeWebSocket:
		return NewWebSocketTransport(tlsCfg, cfg.Stream.PingInterval, logger), nil
	case config.StreamModeGRPC:
		return NewGRPCTransport(cfg.Stream.GRPCAddr, tlsCfg, cfg.Stream.GRPCMethod, logger), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.Stream.Mode)
	}
}

func TargetFromConfig(cfg config.Config, deviceID string) Target {
	apiKey := cfg.Stream.APIKey
	if apiKey == "" {
		apiKey = cfg.Upload.APIKey
	}
	t := Target{DeviceID: deviceID, APIKey: apiKey}
	switch cfg.Stream.Mode {
	case config.StreamModeGRPC:
		t.URL = "grpc://" + cfg.Stream.GRPCAddr + cfg.Stream.GRPCMethod
	default:
		secure := cfg.Stream.Secure || cfg.TLS.Enabled
		t.URL = WebSocketURL(secure, cfg.Stream.Host, cfg.Stream.Port, cfg.Stream.Path, deviceID, apiKey)
	}
	return t
}
