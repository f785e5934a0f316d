// Package backend resolves which picture description endpoint to talk to.
//
// Two shapes are supported: an Azure OpenAI deployment, selected only when all
// four AZURE_OPENAI_* variables are set, and a generic OpenAI-compatible
// server addressed by a plain URL. Resolution is a pure function of a Config.
package backend

import (
	"fmt"
	"maps"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Configuration keys.
const (
	KeyAzureEndpoint   = "AZURE_OPENAI_ENDPOINT"
	KeyAzureAPIKey     = "AZURE_OPENAI_API_KEY"
	KeyAzureDeployment = "AZURE_OPENAI_DEPLOYMENT"
	KeyAzureAPIVersion = "AZURE_OPENAI_API_VERSION"

	KeyCompatibleURL        = "OPENAI_COMPATIBLE_API_URL"
	KeyCompatibleAPIKey     = "OPENAI_COMPATIBLE_API_KEY"
	KeyCompatibleHeaderName = "OPENAI_COMPATIBLE_API_HEADER_NAME"

	KeyPrompt            = "PICTURE_DESCRIPTION_PROMPT"
	KeyTimeout           = "PICTURE_DESCRIPTION_TIMEOUT"
	KeyUsageExtractKey   = "PICTURE_DESCRIPTION_TOKEN_EXTRACT_KEY"
	KeyModel             = "PICTURE_DESCRIPTION_MODEL"
	KeyRequestsPerMinute = "PICTURE_DESCRIPTION_REQUESTS_PER_MINUTE"
)

// Defaults.
const (
	DefaultCompatibleURL        = "http://localhost:8000/v1/chat/completions"
	DefaultCompatibleHeaderName = "api-key"
	DefaultPrompt               = "Describe the image in three sentences. Be concise and accurate."
	DefaultTimeout              = 90 * time.Second
	DefaultUsageExtractKey      = "usage"

	azureHeaderName = "api-key"
)

// ManagedKeys lists the variables that must all be non-empty for the managed
// backend to be selected.
var ManagedKeys = []string{KeyAzureEndpoint, KeyAzureAPIKey, KeyAzureDeployment, KeyAzureAPIVersion}

// Kind identifies the backend shape.
type Kind int

const (
	KindCompatible Kind = iota
	KindManaged
)

func (k Kind) String() string {
	switch k {
	case KindManaged:
		return "azure"
	case KindCompatible:
		return "openai-compatible"
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// ManagedConfig carries the fields required by an Azure OpenAI deployment.
type ManagedConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// CompatibleConfig carries the fields of a generic OpenAI-compatible server.
// An empty APIKey means no auth header is sent.
type CompatibleConfig struct {
	URL        string
	APIKey     string
	HeaderName string
}

// Backend is the tagged result of SelectBackend. Exactly one of Managed and
// Compatible is set, matching Kind.
type Backend struct {
	Kind       Kind
	Managed    *ManagedConfig
	Compatible *CompatibleConfig
}

// SelectBackend picks the backend shape. Generic variables are only read when
// the managed configuration is incomplete.
func SelectBackend(cfg Config) Backend {
	if len(MissingManagedKeys(cfg)) == 0 {
		return Backend{
			Kind: KindManaged,
			Managed: &ManagedConfig{
				Endpoint:   cfg.Get(KeyAzureEndpoint),
				APIKey:     cfg.Get(KeyAzureAPIKey),
				Deployment: cfg.Get(KeyAzureDeployment),
				APIVersion: cfg.Get(KeyAzureAPIVersion),
			},
		}
	}

	cc := &CompatibleConfig{
		URL:        DefaultCompatibleURL,
		APIKey:     cfg.Get(KeyCompatibleAPIKey),
		HeaderName: DefaultCompatibleHeaderName,
	}
	if v := cfg.Get(KeyCompatibleURL); v != "" {
		cc.URL = v
	}
	if v := cfg.Get(KeyCompatibleHeaderName); v != "" {
		cc.HeaderName = v
	}
	return Backend{Kind: KindCompatible, Compatible: cc}
}

// MissingManagedKeys returns the managed keys that are absent or empty. A
// result that is neither empty nor the full list means the managed backend is
// partially configured.
func MissingManagedKeys(cfg Config) []string {
	var missing []string
	for _, k := range ManagedKeys {
		if cfg.Get(k) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Options is the fully resolved description of a backend. It is built once
// per run and must not be modified afterwards; it is shared by every request.
type Options struct {
	Kind        Kind
	Endpoint    *url.URL
	Headers     map[string]string
	QueryParams map[string]string
	Prompt      string
	Timeout     time.Duration

	// UsageExtractKey names the top-level response field carrying token
	// usage. Empty disables extraction.
	UsageExtractKey string

	// Model is sent as the request's "model" field when non-empty.
	Model string

	// RequestsPerMinute throttles outgoing requests when positive.
	RequestsPerMinute float64
}

// Resolve builds Options from cfg.
func Resolve(cfg Config) (*Options, error) {
	b := SelectBackend(cfg)

	var (
		opts *Options
		err  error
	)
	switch b.Kind {
	case KindManaged:
		opts, err = b.Managed.options()
	case KindCompatible:
		opts, err = b.Compatible.options()
	default:
		return nil, &ConfigurationError{Reason: "unknown backend kind " + b.Kind.String()}
	}
	if err != nil {
		return nil, err
	}

	opts.Prompt = DefaultPrompt
	if v := cfg.Get(KeyPrompt); v != "" {
		opts.Prompt = v
	}
	opts.Timeout = parseTimeout(cfg.Get(KeyTimeout), DefaultTimeout)

	opts.UsageExtractKey = DefaultUsageExtractKey
	if v, ok := cfg.Lookup(KeyUsageExtractKey); ok {
		opts.UsageExtractKey = strings.TrimSpace(v)
	}

	opts.Model = cfg.Get(KeyModel)
	if v := cfg.Get(KeyRequestsPerMinute); v != "" {
		rpm, err := strconv.ParseFloat(v, 64)
		if err != nil || rpm < 0 {
			return nil, &ConfigurationError{Key: KeyRequestsPerMinute, Reason: "must be a non-negative number", Err: err}
		}
		opts.RequestsPerMinute = rpm
	}

	return opts, nil
}

func (m *ManagedConfig) options() (*Options, error) {
	raw := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(m.Endpoint, "/"),
		url.PathEscape(m.Deployment),
		url.QueryEscape(m.APIVersion))
	u, err := parseEndpoint(KeyAzureEndpoint, raw)
	if err != nil {
		return nil, err
	}
	return &Options{
		Kind:        KindManaged,
		Endpoint:    u,
		Headers:     map[string]string{azureHeaderName: m.APIKey},
		QueryParams: map[string]string{},
	}, nil
}

func (c *CompatibleConfig) options() (*Options, error) {
	u, err := parseEndpoint(KeyCompatibleURL, c.URL)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if c.APIKey != "" {
		headers[c.HeaderName] = c.APIKey
	}
	return &Options{
		Kind:        KindCompatible,
		Endpoint:    u,
		Headers:     headers,
		QueryParams: map[string]string{},
	}, nil
}

func parseEndpoint(key, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigurationError{Key: key, Reason: "invalid endpoint URL", Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &ConfigurationError{Key: key, Reason: fmt.Sprintf("endpoint %q is not an absolute URL", raw)}
	}
	return u, nil
}

// maxTimeoutSeconds is the largest number of seconds a time.Duration holds.
const maxTimeoutSeconds = float64(math.MaxInt64) / float64(time.Second)

// parseTimeout reads a number of seconds. Unparsable, non-positive,
// non-finite and out of range values fall back to def.
func parseTimeout(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(secs) || secs <= 0 || secs >= maxTimeoutSeconds {
		return def
	}
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 {
		// Sub-nanosecond values.
		return def
	}
	return d
}

// URL returns the request URL: the endpoint with QueryParams merged into its
// query string. A QueryParams entry replaces a parameter of the same name
// already present on the endpoint.
func (o *Options) URL() string {
	if len(o.QueryParams) == 0 {
		return o.Endpoint.String()
	}
	u := *o.Endpoint
	q := u.Query()
	for k, v := range o.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// HeaderNames returns the configured header names in sorted order. Values
// are deliberately not exposed so the result is safe to log.
func (o *Options) HeaderNames() []string {
	return slices.Sorted(maps.Keys(o.Headers))
}

// Summary describes the options without leaking credentials.
func (o *Options) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "provider: %s\n", o.Kind)
	fmt.Fprintf(&sb, "url: %s\n", o.Endpoint.Redacted())
	fmt.Fprintf(&sb, "header names: %v (values hidden)\n", o.HeaderNames())
	fmt.Fprintf(&sb, "timeout: %s\n", o.Timeout)
	if o.UsageExtractKey != "" {
		fmt.Fprintf(&sb, "token_extract_key: %s\n", o.UsageExtractKey)
	}
	if o.Model != "" {
		fmt.Fprintf(&sb, "model: %s\n", o.Model)
	}
	return sb.String()
}
