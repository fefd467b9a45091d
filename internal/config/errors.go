package config

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownPreset is returned for a preset name that does not exist.
	ErrUnknownPreset = errors.New("unknown preset")
)

// ValidationError lists every rule a configuration breaks.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Errors, "; ")
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
