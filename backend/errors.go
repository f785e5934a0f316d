package backend

import "fmt"

// ConfigurationError is returned by Resolve when no usable backend can be
// built from the configuration. It is always reported before any network
// activity takes place.
type ConfigurationError struct {
	Key    string // offending configuration key, if any
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "picture description backend misconfigured"
	if e.Key != "" {
		msg += fmt.Sprintf(" (%s)", e.Key)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
