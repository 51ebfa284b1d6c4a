package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camlink_uploads_total",
			Help: "Still image uploads by result",
		},
		[]string{"result"},
	)
	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camlink_upload_duration_seconds",
			Help:    "Time spent in a single upload request",
			Buckets: prometheus.DefBuckets,
		},
	)
	StreamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camlink_stream_frames_total",
			Help: "Streamed frames by result",
		},
		[]string{"result"},
	)
	StreamConnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camlink_stream_connect_attempts_total",
			Help: "Stream session connect attempts",
		},
	)
	LinkReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camlink_link_reconnects_total",
			Help: "Link disconnect/reconnect cycles issued",
		},
	)
	LinkState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camlink_link_state",
			Help: "Current link state (0 disconnected, 1 connecting, 2 connected, 3 recovering)",
		},
	)
	WifiSignal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camlink_wifi_signal_dbm",
			Help: "Last signal level read for the wireless interface",
		},
	)
)

func init() {
	prometheus.MustRegister(UploadsTotal, UploadDuration, StreamFramesTotal, StreamConnectAttempts, LinkReconnects, LinkState, WifiSignal)
}
