package document

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
)

// loadPDF renders every page of a PDF to a PNG picture. Detecting individual
// figures inside a page is the job of the host pipeline; this loader treats
// each page as one picture.
func loadPDF(ctx context.Context, source string, data []byte, dpi float64) (*Document, error) {
	pdf, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF %s: %w", source, err)
	}
	defer pdf.Close()

	n := pdf.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("PDF %s has no pages", source)
	}

	doc := &Document{Source: source}
	for pageNum := range n {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page, err := renderPage(pdf, pageNum, dpi)
		if err != nil {
			return nil, fmt.Errorf("rendering page %d of %s: %w", pageNum+1, source, err)
		}
		doc.addPicture(newPicture(fmt.Sprintf("page %d", pageNum+1), pageNum+1, page, "image/png"))
	}
	return doc, nil
}

func renderPage(pdf *fitz.Document, pageNum int, dpi float64) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	if dpi > 0 {
		img, ierr := pdf.ImageDPI(pageNum, dpi)
		if ierr != nil {
			return nil, ierr
		}
		err = imaging.Encode(&buf, img, imaging.PNG)
	} else {
		img, ierr := pdf.Image(pageNum)
		if ierr != nil {
			return nil, ierr
		}
		err = imaging.Encode(&buf, img, imaging.PNG)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
