package upload

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient builds the collector client. Every phase of the request is
// bounded so a stalled collector cannot hold the scheduler past timeout.
func NewHTTPClient(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          2,
	}
	return &http.Client{Transport: base, Timeout: timeout}
}
