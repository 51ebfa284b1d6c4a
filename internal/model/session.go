package model

type SessionState int32

const (
	SessionIdle SessionState = iota
	SessionConnecting
	SessionActive
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	default:
		return "unknown"
	}
}
