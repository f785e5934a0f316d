package document

import (
	"bytes"

	"github.com/disintegration/imaging"
)

// Prepare downscales every picture whose width or height exceeds maxDim,
// keeping the aspect ratio. JPEGs stay JPEGs, everything else is re-encoded
// as PNG. Pictures that cannot be decoded are sent as they are. A
// non-positive maxDim is a no-op.
func Prepare(doc *Document, maxDim int) error {
	if maxDim <= 0 {
		return nil
	}
	for _, p := range doc.Pictures {
		if p.Width <= maxDim && p.Height <= maxDim && p.Width > 0 && p.Height > 0 {
			continue
		}
		if err := downscale(p, maxDim); err != nil {
			return err
		}
	}
	return nil
}

func downscale(p *Picture, maxDim int) error {
	img, err := imaging.Decode(bytes.NewReader(p.Image.Data), imaging.AutoOrientation(true))
	if err != nil {
		// Unknown format, let the backend deal with it.
		return nil
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		p.Width, p.Height = b.Dx(), b.Dy()
		return nil
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	format, mimeType := imaging.PNG, "image/png"
	if p.Image.MIMEType == "image/jpeg" {
		format, mimeType = imaging.JPEG, "image/jpeg"
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return err
	}

	p.Image.Data = buf.Bytes()
	p.Image.MIMEType = mimeType
	p.Width, p.Height = resized.Bounds().Dx(), resized.Bounds().Dy()
	return nil
}
