package dma

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is wrapped by every *ConfigError
	ErrInvalidConfiguration = errors.New("dma: invalid configuration")

	// ErrUnmappedStream is returned for a stream index outside 0-7
	ErrUnmappedStream = errors.New("dma: stream index outside 0-7")

	// ErrStreamEnabled is returned for writes the hardware ignores while EN is set
	ErrStreamEnabled = errors.New("dma: stream is enabled")
)

// ConfigError describes the first field of a Config or Identity that failed
// validation.  It matches ErrInvalidConfiguration with errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dma: invalid configuration: %s %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidConfiguration
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
