package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chriskillpack/picdesc/backend"
	"github.com/chriskillpack/picdesc/describer"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const contentPath = "choices.0.message.content"

// Client talks to an OpenAI-compatible chat-completions endpoint, either an
// Azure deployment or a generic server. It is safe for concurrent use by
// multiple goroutines; all of them share one connection pool.
type Client struct {
	opts   *backend.Options
	url    string // endpoint with QueryParams applied
	rc     *resty.Client
	rl     *rateLimiter
	logger zerolog.Logger

	timeout time.Duration
}

var _ describer.Describer = &Client{}

// Init returns a Client for opts. httpClient may be nil, in which case a
// dedicated pooled client is created. opts must not be modified afterwards.
func Init(opts *backend.Options, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	rc := resty.NewWithClient(httpClient).
		SetDebug(false).
		SetRetryCount(0).
		SetHeader("User-Agent", "picdesc/1")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = backend.DefaultTimeout
	}

	return &Client{
		opts:    opts,
		url:     opts.URL(),
		timeout: timeout,
		rc:      rc,
		rl:      newRateLimiter(opts.RequestsPerMinute, time.Minute),
		logger:  logger.With().Str("describer", opts.Kind.String()).Logger(),
	}
}

func (c *Client) Name() string { return c.opts.Kind.String() }

// DescribeImage issues a single POST for image. It is never retried; the
// caller owns any retry policy.
func (c *Client) DescribeImage(ctx context.Context, image describer.ImagePayload) (*describer.Result, error) {
	if len(image.Data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}

	body, err := c.buildRequest(image)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.rc.R().
		SetContext(reqCtx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(body)
	for name, value := range c.opts.Headers {
		// Configured headers win over the protocol ones. Anything else keeps
		// the exact spelling it was configured with.
		if _, ok := req.Header[http.CanonicalHeaderKey(name)]; ok {
			req.Header.Set(name, value)
			continue
		}
		req.Header[name] = []string{value}
	}

	start := time.Now()
	resp, err := req.Post(c.url)
	if err != nil {
		// A caller deadline or cancellation is reported as is, only the
		// client's own deadline is a TimeoutError.
		if ctx.Err() == nil && isTimeout(reqCtx, err) {
			return nil, &describer.TimeoutError{Timeout: c.timeout, Err: err}
		}
		return nil, fmt.Errorf("sending picture description request: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode()).
		Int("bytes", len(resp.Body())).
		Dur("elapsed", time.Since(start)).
		Msg("picture description response")

	if !resp.IsSuccess() {
		return nil, &describer.BackendError{StatusCode: resp.StatusCode(), Body: bytes.Clone(resp.Body())}
	}

	return parseResponse(resp.Body(), c.opts.UsageExtractKey)
}

// parseResponse extracts the first choice's message content and, when
// usageKey is non-empty, the top-level usage field named by it.
func parseResponse(body []byte, usageKey string) (*describer.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, &describer.ResponseFormatError{Reason: "body is not valid JSON", Body: bytes.Clone(body)}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, &describer.ResponseFormatError{Reason: "body is not a JSON object", Body: bytes.Clone(body)}
	}

	content := doc.Get(contentPath)
	if !content.Exists() {
		return nil, &describer.ResponseFormatError{Reason: contentPath + " is missing", Body: bytes.Clone(body)}
	}
	if content.Type != gjson.String {
		return nil, &describer.ResponseFormatError{Reason: contentPath + " is not a string", Body: bytes.Clone(body)}
	}
	text := strings.TrimSpace(content.String())
	if text == "" {
		return nil, &describer.ResponseFormatError{Reason: contentPath + " is empty", Body: bytes.Clone(body)}
	}

	res := &describer.Result{Text: text}
	if usageKey == "" {
		return res, nil
	}

	// Walk the top level rather than using a gjson path, the key is taken
	// literally even if it contains path syntax.
	var usageErr error
	doc.ForEach(func(key, value gjson.Result) bool {
		if key.String() != usageKey {
			return true
		}
		if value.Type != gjson.Null {
			res.Usage, usageErr = describer.DecodeUsage([]byte(value.Raw))
		}
		return false
	})
	if usageErr != nil {
		return nil, &describer.ResponseFormatError{Reason: "decoding " + usageKey + ": " + usageErr.Error(), Body: bytes.Clone(body)}
	}

	return res, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
