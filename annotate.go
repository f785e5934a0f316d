package picdesc

import (
	"context"
	"fmt"
	"time"

	"github.com/chriskillpack/picdesc/document"
	"golang.org/x/sync/errgroup"
)

// Annotation is the description attached to a picture.
type Annotation = document.Annotation

// Annotate describes a single picture. Describer errors are returned as they
// are; the caller decides whether one failed picture fails the document.
func (a *Annotator) Annotate(ctx context.Context, pic *document.Picture) (*Annotation, error) {
	res, err := a.DescribeImage(ctx, pic.Image)
	if err != nil {
		return nil, err
	}
	return &Annotation{
		Kind:       document.AnnotationKindDescription,
		Text:       res.Text,
		Provenance: a.Name(),
		TokenUsage: res.Usage,
	}, nil
}

// FailurePolicy decides what AnnotateDocument does when a picture fails.
type FailurePolicy int

const (
	// FailAbort stops at the first failed picture and returns its error.
	FailAbort FailurePolicy = iota
	// FailSkip records the error on the picture and carries on. The picture
	// is left without a description annotation.
	FailSkip
)

type AnnotateOptions struct {
	Concurrency int // pictures in flight at once, <= 0 means 1
	OnFailure   FailurePolicy

	// Skip, if set, is consulted before describing a picture.
	Skip func(*document.Picture) bool

	// Done, if set, is called after each picture finishes, successfully
	// or not. It may be called from several goroutines at once.
	Done func(pic *document.Picture, ann *Annotation, err error)
}

// AnnotateDocument describes every picture in doc and attaches the result to
// the picture it came from. Pictures are processed concurrently and may
// complete in any order.
func (a *Annotator) AnnotateDocument(ctx context.Context, doc *document.Document, opts AnnotateOptions) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))

	for _, pic := range doc.Pictures {
		if opts.Skip != nil && opts.Skip(pic) {
			continue
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			start := time.Now()
			ann, err := a.Annotate(gctx, pic)
			if opts.Done != nil {
				opts.Done(pic, ann, err)
			}
			if err != nil {
				if opts.OnFailure == FailSkip {
					pic.Err = err
					a.logger.Warn().Err(err).Int("picture", pic.Index).Msg("picture description failed, skipping")
					return nil
				}
				return fmt.Errorf("picture %d (%s): %w", pic.Index, pic.Name, err)
			}

			pic.Annotations = append(pic.Annotations, *ann)
			a.logger.Debug().
				Int("picture", pic.Index).
				Dur("elapsed", time.Since(start)).
				Msg("picture described")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
