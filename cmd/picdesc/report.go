package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chriskillpack/picdesc/document"
)

// printAnnotations lists every picture with its provenance and annotations,
// including the token usage reported by the backend.
func printAnnotations(w io.Writer, doc *document.Document) {
	var tokens int64
	for _, pic := range doc.Pictures {
		fmt.Fprintf(w, "\nPicture #%d:\n", pic.Index)
		if pic.Page > 0 {
			fmt.Fprintf(w, "  provenance: page=%d size=%dx%d\n", pic.Page, pic.Width, pic.Height)
		} else {
			fmt.Fprintf(w, "  provenance: %s size=%dx%d\n", pic.Name, pic.Width, pic.Height)
		}

		if pic.Err != nil {
			fmt.Fprintf(w, "  (failed: %s)\n", pic.Err)
			continue
		}
		if len(pic.Annotations) == 0 {
			fmt.Fprintln(w, "  (no annotations)")
			continue
		}

		for i, ann := range pic.Annotations {
			fmt.Fprintf(w, "  Annotation %d: text=%q token_usage=%v\n", i, ann.Text, ann.TokenUsage)
			tokens += totalTokens(ann.TokenUsage)
		}
	}
	if tokens > 0 {
		fmt.Fprintf(w, "\nTotal tokens: %d\n", tokens)
	}
}

// totalTokens picks the OpenAI-style total_tokens count out of a usage value,
// or 0 when the backend reports usage in another shape.
func totalTokens(usage any) int64 {
	m, ok := usage.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m["total_tokens"].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}
