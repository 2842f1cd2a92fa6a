package errutil

import "errors"

var (
	ErrBusUnavailable   = errors.New("i2c bus unavailable")
	ErrPermissionDenied = errors.New("i2c permission denied")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrResetFailed      = errors.New("device reset failed")
)
