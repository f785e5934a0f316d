package describer

import "context"

// ImagePayload is a single picture as handed over by the host document. The
// describer does not retain Data after DescribeImage returns.
type ImagePayload struct {
	Data     []byte
	MIMEType string // e.g. "image/png"
}

// Result is the outcome of one successful description request.
type Result struct {
	Text string

	// Usage is the backend-reported token usage, decoded from JSON but
	// otherwise untouched. It is nil when extraction is disabled or the
	// backend did not report it.
	Usage any
}

// Describer describes an image using a remote vision model.
type Describer interface {
	// Name returns a short name for the backend, e.g. "azure" or
	// "openai-compatible".
	Name() string

	// DescribeImage sends image to the backend and returns its description.
	// The provided ctx is used as a parent context for the request; the
	// describer applies its own configured timeout on top of it.
	DescribeImage(ctx context.Context, image ImagePayload) (*Result, error)
}
