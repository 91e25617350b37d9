/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	serial "github.com/allbin/go-portsh"
)

// Exit statuses from sysexits.h
const (
	exSoftware = 70 // remote command reported a fault
	exIOErr    = 74
	exTempFail = 75 // device locked, worth retrying later
	exProtocol = 76
	exConfig   = 78
)

// exitStatus carries the remote command's exit status out of RunE. It is
// not printed.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	var (
		status *exitStatus
		errno  syscall.Errno
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &status):
		return status.code
	case serial.IsConfigError(err):
		return exConfig
	case errors.Is(err, serial.ErrDeviceInUse), errors.Is(err, serial.ErrLockContention):
		return exTempFail
	case errors.Is(err, serial.ErrRemoteFault):
		return exSoftware
	case errors.Is(err, serial.ErrProtocol):
		return exProtocol
	case errors.Is(err, serial.ErrDeviceNotFound),
		errors.Is(err, serial.ErrPermissionDenied),
		errors.Is(err, serial.ErrPortClosed),
		errors.Is(err, io.EOF),
		errors.As(err, &errno):
		return exIOErr
	default:
		return 1
	}
}
