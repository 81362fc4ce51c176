package shared

import "errors"

var (
	ErrUnknownStore = errors.New("no store with that id")
	ErrNotPaired    = errors.New("device is not paired")
)
