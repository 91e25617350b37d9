package serial

import (
	"errors"
	"fmt"
)

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrPortClosed       = errors.New("serial port is closed")

	// Lock file errors
	ErrLockContention = errors.New("lock contention detected")

	// Remote session errors
	ErrProtocol    = errors.New("protocol error")
	ErrRemoteFault = errors.New("remote fault")

	// ErrBootstrap means the remote interpreter exited before the stage
	// reported it was running.
	ErrBootstrap = fmt.Errorf("%w: remote bootstrap failed", ErrProtocol)

	// ErrDesync means the frame codec lost sync with the remote stream.
	// It is permanent for the rest of the session.
	ErrDesync = fmt.Errorf("%w: frame stream out of sync", ErrProtocol)
)

// IsConfigError reports whether err was caused by an invalid setting.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidBaudRate) || errors.Is(err, ErrInvalidConfig)
}
