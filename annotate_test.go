package picdesc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chriskillpack/picdesc/backend"
	"github.com/chriskillpack/picdesc/describer"
	"github.com/chriskillpack/picdesc/document"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeDescriber answers with the image bytes as text, after an optional
// per-image delay, and fails for images listed in fail.
type fakeDescriber struct {
	delay func(image describer.ImagePayload) time.Duration
	fail  map[string]error
	calls atomic.Int32
}

func (f *fakeDescriber) Name() string { return "fake" }

func (f *fakeDescriber) DescribeImage(ctx context.Context, image describer.ImagePayload) (*describer.Result, error) {
	f.calls.Add(1)
	if f.delay != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay(image)):
		}
	}
	if err := f.fail[string(image.Data)]; err != nil {
		return nil, err
	}
	return &describer.Result{Text: "desc " + string(image.Data), Usage: map[string]any{"n": len(image.Data)}}, nil
}

func TestAnnotate(t *testing.T) {
	a := NewAnnotator(&fakeDescriber{}, zerolog.Nop())
	pic := &document.Picture{Image: describer.ImagePayload{Data: []byte("abc")}}

	ann, err := a.Annotate(t.Context(), pic)
	require.NoError(t, err)
	assert.Equal(t, &Annotation{
		Kind:       document.AnnotationKindDescription,
		Text:       "desc abc",
		Provenance: "fake",
		TokenUsage: map[string]any{"n": 3},
	}, ann)
}

func TestAnnotatePropagatesErrorsUnchanged(t *testing.T) {
	want := &describer.BackendError{StatusCode: 503}
	a := NewAnnotator(&fakeDescriber{fail: map[string]error{"x": want}}, zerolog.Nop())

	ann, err := a.Annotate(t.Context(), &document.Picture{Image: describer.ImagePayload{Data: []byte("x")}})
	assert.Nil(t, ann)
	assert.Same(t, want, err)
}

func TestAnnotateDocumentIdentity(t *testing.T) {
	doc := testDocument("doc.pdf", 8)
	// Later pictures finish first.
	fd := &fakeDescriber{delay: func(image describer.ImagePayload) time.Duration {
		return time.Duration(20-len(image.Data)) * time.Millisecond
	}}
	for i, p := range doc.Pictures {
		p.Image.Data = []byte(fmt.Sprintf("%0*d", i+1, i))
	}

	a := NewAnnotator(fd, zerolog.Nop())
	var done atomic.Int32
	err := a.AnnotateDocument(t.Context(), doc, AnnotateOptions{
		Concurrency: 4,
		Done:        func(*document.Picture, *Annotation, error) { done.Add(1) },
	})
	require.NoError(t, err)

	for _, p := range doc.Pictures {
		require.Len(t, p.Annotations, 1)
		assert.Equal(t, "desc "+string(p.Image.Data), p.Annotations[0].Text)
	}
	assert.Equal(t, int32(8), done.Load())
}

func TestAnnotateDocumentFailurePolicy(t *testing.T) {
	boom := &describer.ResponseFormatError{Reason: "no choices"}

	t.Run("abort", func(t *testing.T) {
		doc := testDocument("doc.pdf", 3)
		a := NewAnnotator(&fakeDescriber{fail: map[string]error{"image-1": boom}}, zerolog.Nop())

		err := a.AnnotateDocument(t.Context(), doc, AnnotateOptions{})
		var fe *describer.ResponseFormatError
		require.True(t, errors.As(err, &fe), "got %v", err)
		assert.Contains(t, err.Error(), "picture 1")
		assert.Empty(t, doc.Pictures[1].Annotations)
	})

	t.Run("skip", func(t *testing.T) {
		doc := testDocument("doc.pdf", 3)
		a := NewAnnotator(&fakeDescriber{fail: map[string]error{"image-1": boom}}, zerolog.Nop())

		err := a.AnnotateDocument(t.Context(), doc, AnnotateOptions{OnFailure: FailSkip, Concurrency: 3})
		require.NoError(t, err)
		assert.Len(t, doc.Pictures[0].Annotations, 1)
		assert.Empty(t, doc.Pictures[1].Annotations, "failed picture must not get a placeholder")
		assert.Same(t, boom, doc.Pictures[1].Err)
		assert.Len(t, doc.Pictures[2].Annotations, 1)
	})
}

func TestAnnotateDocumentSkip(t *testing.T) {
	doc := testDocument("doc.pdf", 4)
	fd := &fakeDescriber{}
	a := NewAnnotator(fd, zerolog.Nop())

	err := a.AnnotateDocument(t.Context(), doc, AnnotateOptions{
		Skip: func(p *document.Picture) bool { return p.Index%2 == 0 },
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fd.calls.Load())
	assert.Empty(t, doc.Pictures[0].Annotations)
	assert.Len(t, doc.Pictures[1].Annotations, 1)
}

func TestInitEndToEnd(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		prompt := gjson.GetBytes(body, "messages.0.content.0.text").String()
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}],"usage":{"total_tokens":42}}`, "A cat. "+prompt)
	}))
	defer ts.Close()

	a, err := Init(InitOptions{
		Config: backend.Config{
			backend.KeyAzureEndpoint:        "https://ignored.example.com",
			backend.KeyCompatibleURL:        ts.URL + "/v1/chat/completions",
			backend.KeyCompatibleAPIKey:     "Bearer tok",
			backend.KeyCompatibleHeaderName: "Authorization",
			backend.KeyPrompt:               "Describe.",
		},
		HttpClient: ts.Client(),
	})
	require.NoError(t, err)
	assert.Equal(t, backend.KindCompatible, a.Options.Kind)
	assert.Equal(t, "openai-compatible", a.Name())

	doc := testDocument("doc.pdf", 2)
	require.NoError(t, a.AnnotateDocument(t.Context(), doc, AnnotateOptions{Concurrency: 2}))
	for _, p := range doc.Pictures {
		require.Len(t, p.Annotations, 1)
		assert.Equal(t, "A cat. Describe.", p.Annotations[0].Text)
		assert.Equal(t, map[string]any{"total_tokens": json.Number("42")}, p.Annotations[0].TokenUsage)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestInitConfigurationError(t *testing.T) {
	_, err := Init(InitOptions{Config: backend.Config{backend.KeyCompatibleURL: "not a url"}})
	var cerr *backend.ConfigurationError
	assert.True(t, errors.As(err, &cerr), "got %v", err)
}

func TestPlugins(t *testing.T) {
	p, ok := Lookup(PluginKind)
	require.True(t, ok)
	assert.Equal(t, PluginKind, p.Kind)

	a, err := p.New(InitOptions{Config: backend.Config{}})
	require.NoError(t, err)
	assert.Equal(t, backend.DefaultCompatibleURL, a.Options.Endpoint.String())

	_, ok = Lookup("nope")
	assert.False(t, ok)
}
