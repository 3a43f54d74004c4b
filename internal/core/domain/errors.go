package domain

import (
	"context"
	"errors"
)

var (
	ErrTimeout           = errors.New("timeout")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrModuleMissing     = errors.New("module missing")
	ErrIllegalParameter  = errors.New("illegal parameter")
	ErrAlreadyImported   = errors.New("already imported")
	ErrNoDataToImport    = errors.New("no data to import")
	ErrActionRunning     = errors.New("an action is already running")
	ErrNoAction          = errors.New("no action is running")
	ErrSessionNotFound   = errors.New("session not found")
	ErrFileNotFound      = errors.New("file not found")
)

// IsTimeout reports whether err should surface as a timeout state.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
