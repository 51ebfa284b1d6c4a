package model

import "time"

type UploadStats struct {
	SuccessCount uint32 `json:"success_count"`
	FailureCount uint32 `json:"failure_count"`
}

type StreamStats struct {
	State           string `json:"state"`
	FramesSent      uint64 `json:"frames_sent"`
	FramesDropped   uint64 `json:"frames_dropped"`
	ConnectAttempts uint64 `json:"connect_attempts"`
}

type LinkStatus struct {
	State        string     `json:"state"`
	FailingSince *time.Time `json:"failing_since,omitempty"`
	Reconnects   uint64     `json:"reconnects"`
}

type InterfaceStats struct {
	Name      string `json:"name"`
	SignalDBM *int   `json:"signal_dbm,omitempty"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`
}

// Status is the diagnostic snapshot served to status readers.
type Status struct {
	DeviceID     string          `json:"device_id"`
	BootID       string          `json:"boot_id"`
	AgentVersion string          `json:"agent_version"`
	Link         LinkStatus      `json:"link"`
	Upload       UploadStats     `json:"upload"`
	Stream       StreamStats     `json:"stream"`
	Interface    *InterfaceStats `json:"interface,omitempty"`
	Brightness   uint8           `json:"brightness"`
	Timestamp    time.Time       `json:"timestamp"`
}
