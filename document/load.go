package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/chriskillpack/picdesc/describer"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

const pdfMIME = "application/pdf"

// LoadOptions controls how a source is turned into pictures.
type LoadOptions struct {
	// MaxDimension downscales pictures whose width or height exceeds it.
	// Zero keeps pictures at their original size.
	MaxDimension int

	// DPI used to render PDF pages. Zero uses the renderer default.
	DPI float64

	HTTPClient *http.Client // for URL sources, if nil uses http.DefaultClient
}

// Load reads source, which is a local image, a directory of images, a PDF
// or an http(s) URL to either of the former.
func Load(ctx context.Context, source string, opts LoadOptions) (*Document, error) {
	var (
		doc *Document
		err error
	)
	switch {
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		doc, err = loadURL(ctx, source, opts)
	default:
		var fi os.FileInfo
		fi, err = os.Stat(source)
		if err != nil {
			return nil, err
		}
		if fi.IsDir() {
			doc, err = loadDir(ctx, source)
		} else {
			doc, err = loadFile(ctx, source, opts)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := Prepare(doc, opts.MaxDimension); err != nil {
		return nil, err
	}
	return doc, nil
}

func loadFile(ctx context.Context, fname string, opts LoadOptions) (*Document, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	return fromBytes(ctx, fname, filepath.Base(fname), data, opts)
}

func loadURL(ctx context.Context, source string, opts LoadOptions) (*Document, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := resty.NewWithClient(httpClient).R().SetContext(ctx).Get(source)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", source, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetching %s: %s", source, resp.Status())
	}

	name := path.Base(resp.RawResponse.Request.URL.Path)
	return fromBytes(ctx, source, name, resp.Body(), opts)
}

func fromBytes(ctx context.Context, source, name string, data []byte, opts LoadOptions) (*Document, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is(pdfMIME):
		return loadPDF(ctx, source, data, opts.DPI)
	case strings.HasPrefix(mt.String(), "image/"):
		doc := &Document{Source: source}
		doc.addPicture(newPicture(name, 0, data, mt.String()))
		return doc, nil
	}
	return nil, fmt.Errorf("%s: unsupported content type %s", source, mt.String())
}

// loadDir collects every image below root, in lexical path order.
func loadDir(ctx context.Context, root string) (*Document, error) {
	doc := &Document{Source: root}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isImageExt(p) {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		mt := mimetype.Detect(data)
		if !strings.HasPrefix(mt.String(), "image/") {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		doc.addPicture(newPicture(rel, 0, data, mt.String()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func isImageExt(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

func newPicture(name string, page int, data []byte, mimeType string) *Picture {
	p := &Picture{
		Name:  name,
		Page:  page,
		Image: describer.ImagePayload{Data: data, MIMEType: mimeType},
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		p.Width, p.Height = cfg.Width, cfg.Height
	}
	return p
}
