package relay

import "errors"

var (
	// ErrConfiguration matches any *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	ErrEmptyMessage  = errors.New("message is required")
)

// ConfigurationError is fatal for the request and is never retried against
// another provider: a missing tokenizer, an adapter-less provider kind, or
// no enabled providers at all.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Err.Error() }

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
