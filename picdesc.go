// Package picdesc attaches remote vision-model descriptions to the pictures
// of a document.
package picdesc

import (
	"net/http"

	"github.com/chriskillpack/picdesc/backend"
	"github.com/chriskillpack/picdesc/describer"
	"github.com/chriskillpack/picdesc/internal/openai"
	"github.com/rs/zerolog"
)

type InitOptions struct {
	// Config is the raw configuration the backend is resolved from. If nil
	// the process environment is used.
	Config backend.Config

	HttpClient *http.Client // if nil a dedicated pooled client is used

	Logger zerolog.Logger // zero value discards
}

// Annotator produces description annotations for pictures. It is safe for
// concurrent use.
type Annotator struct {
	describer.Describer

	// Options the describer was built from. Nil when the Annotator wraps a
	// caller-supplied describer.
	Options *backend.Options

	logger zerolog.Logger
}

// Init resolves the backend once and returns an Annotator sharing it across
// every picture. Configuration errors are reported here, before any network
// activity.
func Init(pio InitOptions) (*Annotator, error) {
	cfg := pio.Config
	if cfg == nil {
		cfg = backend.FromEnviron()
	}

	opts, err := backend.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	if missing := backend.MissingManagedKeys(cfg); len(missing) > 0 && len(missing) < len(backend.ManagedKeys) {
		pio.Logger.Debug().
			Strs("missing", missing).
			Msg("partial Azure OpenAI configuration, using the OpenAI-compatible backend")
	}
	pio.Logger.Info().
		Stringer("provider", opts.Kind).
		Str("url", opts.Endpoint.Redacted()).
		Strs("header_names", opts.HeaderNames()).
		Dur("timeout", opts.Timeout).
		Str("token_extract_key", opts.UsageExtractKey).
		Msg("picture description backend selected")

	a := NewAnnotator(openai.Init(opts, pio.HttpClient, pio.Logger), pio.Logger)
	a.Options = opts
	return a, nil
}

// NewAnnotator wraps an existing describer.
func NewAnnotator(d describer.Describer, logger zerolog.Logger) *Annotator {
	return &Annotator{Describer: d, logger: logger}
}
