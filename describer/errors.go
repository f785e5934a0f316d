package describer

import (
	"fmt"
	"time"
)

// maxBodyInError bounds how much of a response body is echoed by Error().
const maxBodyInError = 512

// TimeoutError reports a request that did not complete within the configured
// timeout. It is never retried by the describer.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("picture description timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// BackendError reports a non-2xx HTTP response.
type BackendError struct {
	StatusCode int
	Body       []byte
}

func (e *BackendError) Error() string {
	body := e.Body
	suffix := ""
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
		suffix = "..."
	}
	return fmt.Sprintf("picture description backend returned HTTP %d: %s%s", e.StatusCode, body, suffix)
}

// ResponseFormatError reports a 2xx response that does not carry a usable
// description.
type ResponseFormatError struct {
	Reason string
	Body   []byte
}

func (e *ResponseFormatError) Error() string {
	return "unexpected picture description response: " + e.Reason
}
