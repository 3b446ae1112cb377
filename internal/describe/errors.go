package describe

import (
	"errors"
	"fmt"
)

// ErrConfig matches every configuration error via errors.Is.
var ErrConfig = errors.New("invalid describe configuration")

// ConfigError reports an invalid aggregator configuration.
type ConfigError struct{ msg string }

func (e *ConfigError) Error() string { return e.msg }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func configErrorf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// TransformError reports a failure to build the normalized projection.
type TransformError struct {
	Column string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("transform: %v", e.Err)
	}
	return fmt.Sprintf("transform column %q: %v", e.Column, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
