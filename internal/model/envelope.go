package model

type MessageType string

const (
	MessageTypeStatus MessageType = "device_status"
	MessageTypeFrame  MessageType = "frame"
)

// Envelope is transport-agnostic framing for telemetry payloads.
type Envelope struct {
	Type          MessageType `json:"type"`
	DeviceID      string      `json:"device_id"`
	BootID        string      `json:"boot_id"`
	TimestampUnix int64       `json:"timestamp_unix"`
	Payload       any         `json:"payload"`
}
