package document

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), makePNG(t, 4, 3), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.png"), makePNG(t, 2, 2), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.jpg"), []byte("not an image"), 0o644))

	doc, err := Load(t.Context(), dir, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, doc.Pictures, 2)

	assert.Equal(t, "b.png", doc.Pictures[0].Name)
	assert.Equal(t, 0, doc.Pictures[0].Index)
	assert.Equal(t, 4, doc.Pictures[0].Width)
	assert.Equal(t, 3, doc.Pictures[0].Height)
	assert.Equal(t, "image/png", doc.Pictures[0].Image.MIMEType)

	assert.Equal(t, filepath.Join("sub", "a.png"), doc.Pictures[1].Name)
	assert.Equal(t, 1, doc.Pictures[1].Index)
}

func TestLoadFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(fn, makePNG(t, 8, 8), 0o644))

	doc, err := Load(t.Context(), fn, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, fn, doc.Source)
	require.Len(t, doc.Pictures, 1)
	assert.Equal(t, "photo.png", doc.Pictures[0].Name)
}

func TestLoadUnsupported(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(fn, []byte("just text"), 0o644))

	_, err := Load(t.Context(), fn, LoadOptions{})
	assert.ErrorContains(t, err, "unsupported content type")

	_, err = Load(t.Context(), filepath.Join(t.TempDir(), "missing.png"), LoadOptions{})
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadURL(t *testing.T) {
	data := makePNG(t, 5, 5)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/figures/fig1.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer ts.Close()

	doc, err := Load(t.Context(), ts.URL+"/figures/fig1.png", LoadOptions{HTTPClient: ts.Client()})
	require.NoError(t, err)
	require.Len(t, doc.Pictures, 1)
	assert.Equal(t, "fig1.png", doc.Pictures[0].Name)
	assert.Equal(t, data, doc.Pictures[0].Image.Data)

	_, err = Load(t.Context(), ts.URL+"/missing.png", LoadOptions{HTTPClient: ts.Client()})
	assert.ErrorContains(t, err, "404")
}

func TestPrepareDownscales(t *testing.T) {
	doc := &Document{Source: "mem"}
	doc.addPicture(newPicture("big", 0, makePNG(t, 400, 200), "image/png"))
	doc.addPicture(newPicture("small", 0, makePNG(t, 50, 20), "image/png"))
	small := doc.Pictures[1].Image.Data

	require.NoError(t, Prepare(doc, 100))

	assert.Equal(t, 100, doc.Pictures[0].Width)
	assert.Equal(t, 50, doc.Pictures[0].Height)
	cfg, err := png.DecodeConfig(bytes.NewReader(doc.Pictures[0].Image.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)

	assert.Equal(t, small, doc.Pictures[1].Image.Data)
}

func TestPrepareKeepsUndecodable(t *testing.T) {
	doc := &Document{}
	doc.addPicture(&Picture{Name: "odd"})
	doc.Pictures[0].Image.Data = []byte("????")

	require.NoError(t, Prepare(doc, 10))
	assert.Equal(t, []byte("????"), doc.Pictures[0].Image.Data)
}

func TestWriteMarkdown(t *testing.T) {
	doc := &Document{Source: "report.pdf"}
	doc.addPicture(&Picture{Name: "page 1", Page: 1, Width: 10, Height: 20})
	doc.addPicture(&Picture{Name: "page 2", Page: 2})
	doc.addPicture(&Picture{Name: "page 3", Page: 3, Err: errors.New("boom")})
	doc.Pictures[0].Annotations = []Annotation{{
		Kind:       AnnotationKindDescription,
		Text:       "A cat.",
		TokenUsage: map[string]any{"total_tokens": 42},
	}}

	var sb strings.Builder
	require.NoError(t, doc.WriteMarkdown(&sb))
	out := sb.String()

	assert.Contains(t, out, "# report.pdf\n")
	assert.Contains(t, out, "## Picture 0: page 1\n\n_page 1, 10x20_\n\nA cat.\n")
	assert.Contains(t, out, `<!-- token_usage: {"total_tokens":42} -->`)
	assert.Contains(t, out, "## Picture 1: page 2\n\n_page 2, 0x0_\n\n<!-- no annotations -->")
	assert.Contains(t, out, "<!-- description failed: boom -->")
	assert.Equal(t, 1, doc.Annotated())
}
