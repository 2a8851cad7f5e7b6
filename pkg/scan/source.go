// Package scan runs page acquisition as a stoppable, resumable job.
package scan

import (
	"errors"
	"image"
)

// ErrCanceled is returned by Source.Read once the acquisition was canceled.
var ErrCanceled = errors.New("scan canceled")

// Source is a scanner session delivering a page line by line. Read blocks
// until more lines are available and returns io.EOF once the page is
// complete. Cancel may be called from any goroutine; every other method is
// only called from the scan job.
type Source interface {
	ExpectedSize() (width, height int)
	Read() error
	// AvailableLines returns the half-open range of lines received so far.
	AvailableLines() (first, next int)
	Image(from, to int) image.Image
	// Result returns the complete page after Read returned io.EOF.
	Result() image.Image
	Cancel()
}
