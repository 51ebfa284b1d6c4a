package upload

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("link not connected")
	ErrFormat       = errors.New("unexpected frame format")
	ErrNoFrame      = errors.New("no frame to upload")
)

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector responded with status %d", e.Code)
}
