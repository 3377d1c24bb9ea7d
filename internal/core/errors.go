package core

import "errors"

var (
	ErrInvalidRunMode  = errors.New("invalid run mode")
	ErrInvalidRule     = errors.New("invalid reorder rule")
	ErrOrderNotFound   = errors.New("purchase order not found")
	ErrLockNotObtained = errors.New("item lock not obtained")

	ErrInvalidEngineConfig = errors.New("invalid engine config")
)
