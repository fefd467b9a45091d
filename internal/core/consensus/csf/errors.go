package csf

import "errors"

var (
	// ErrSimRunning is returned by operations that need continuous play stopped.
	ErrSimRunning = errors.New("simulation is running")

	// ErrNotStepping is returned when step navigation is used outside step mode.
	ErrNotStepping = errors.New("simulation is not in step mode")
)
