// Package ocr implements the orientation-detecting recognition job: the
// page is recognized once per candidate rotation, each result is scored for
// plausibility, and the best orientation wins.
package ocr

import (
	"context"
	"image"
	"strings"
)

// WordBox is one recognized word and its position on the page
type WordBox struct {
	Content  string          `json:"content"`
	Position image.Rectangle `json:"position"`
}

// LineBox is one recognized line of text
type LineBox struct {
	Content  string          `json:"content"`
	Position image.Rectangle `json:"position"`
	Words    []WordBox       `json:"words,omitempty"`
}

// Engine is an OCR engine. Recognize may be called from several goroutines
// at once, one per orientation, and should return when ctx is done.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, lang string) ([]LineBox, error)
}

// Text joins the content of every line, one line per row.
func Text(boxes []LineBox) string {
	var b strings.Builder
	for _, line := range boxes {
		b.WriteString(line.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
