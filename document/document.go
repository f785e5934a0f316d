// Package document is the minimal host-side model that picture descriptions
// are attached to: a source document and the pictures found in it.
package document

import (
	"github.com/chriskillpack/picdesc/describer"
)

// AnnotationKindDescription is the Kind of annotations produced by the
// picture describer.
const AnnotationKindDescription = "description"

// Annotation is a structured result attached to a picture.
type Annotation struct {
	Kind       string // AnnotationKindDescription
	Text       string
	Provenance string // name of the producing backend
	TokenUsage any    // backend-defined, nil when not reported
}

// Picture is one image detected in a document.
type Picture struct {
	Index  int    // position within Document.Pictures, stable identity
	Page   int    // 1-based page number, 0 when the source has no pages
	Name   string // file name or page label
	Width  int
	Height int

	Image describer.ImagePayload

	Annotations []Annotation

	// Err records why the picture has no description when the host chose
	// to carry on after a failure.
	Err error
}

// Document is a loaded source and its pictures in document order.
type Document struct {
	Source   string
	Pictures []*Picture
}

func (d *Document) addPicture(p *Picture) {
	p.Index = len(d.Pictures)
	d.Pictures = append(d.Pictures, p)
}

// Annotated returns the number of pictures with at least one annotation.
func (d *Document) Annotated() int {
	n := 0
	for _, p := range d.Pictures {
		if len(p.Annotations) > 0 {
			n++
		}
	}
	return n
}
