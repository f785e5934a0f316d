package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/chriskillpack/picdesc/document"
	"github.com/stretchr/testify/assert"
)

func TestPrintAnnotations(t *testing.T) {
	doc := &document.Document{Source: "doc.pdf", Pictures: []*document.Picture{
		{Index: 0, Page: 1, Width: 10, Height: 10, Annotations: []document.Annotation{
			{Text: "A cat.", TokenUsage: map[string]any{"total_tokens": json.Number("42")}},
		}},
		{Index: 1, Name: "fig.png"},
		{Index: 2, Page: 3, Err: errors.New("HTTP 500")},
		{Index: 3, Page: 4, Annotations: []document.Annotation{
			{Text: "A dog.", TokenUsage: map[string]any{"total_tokens": 8}},
		}},
	}}

	var sb strings.Builder
	printAnnotations(&sb, doc)
	out := sb.String()

	assert.Contains(t, out, "Picture #0:\n  provenance: page=1 size=10x10\n  Annotation 0: text=\"A cat.\"")
	assert.Contains(t, out, "Picture #1:\n  provenance: fig.png size=0x0\n  (no annotations)")
	assert.Contains(t, out, "(failed: HTTP 500)")
	assert.Contains(t, out, "Total tokens: 50")
}

func TestTotalTokens(t *testing.T) {
	assert.Equal(t, int64(0), totalTokens(nil))
	assert.Equal(t, int64(0), totalTokens("12"))
	assert.Equal(t, int64(0), totalTokens(map[string]any{"input": 3}))
	assert.Equal(t, int64(7), totalTokens(map[string]any{"total_tokens": 7.0}))
	assert.Equal(t, int64(9007199254740993), totalTokens(map[string]any{"total_tokens": json.Number("9007199254740993")}))
	assert.Equal(t, int64(0), totalTokens(map[string]any{"total_tokens": json.Number("n/a")}))
}
