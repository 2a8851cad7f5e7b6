// Package sim provides a simulated scanner and OCR engine so the scheduling
// pipeline can run without hardware or native libraries.
package sim

import (
	"context"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/phil777/paperwork/pkg/ocr"
	"github.com/phil777/paperwork/pkg/scan"
)

// Lines is the text printed on a simulated page
var Lines = []string{
	"Paperwork scanned document",
	"Invoice number forty two",
	"Please find attached the quarterly statement",
}

// Page draws a blank page with a dark title mark in its top-left corner.
// The mark is how the simulated engine tells which way is up.
func Page(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for y := height / 20; y < height/8; y++ {
		for x := width / 20; x < width/5; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	return img
}

// Source is a simulated scanner session
type Source struct {
	ID string

	page     *image.Gray
	step     int
	delay    time.Duration
	next     int
	canceled atomic.Bool
}

// NewSource scans page, delivering linesPerRead lines every delay
func NewSource(page image.Image, linesPerRead int, delay time.Duration) *Source {
	b := page.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Set(x, y, page.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	if linesPerRead < 1 {
		linesPerRead = 1
	}
	return &Source{
		ID:    uuid.New().String(),
		page:  gray,
		step:  linesPerRead,
		delay: delay,
	}
}

func (s *Source) ExpectedSize() (int, int) {
	b := s.page.Bounds()
	return b.Dx(), b.Dy()
}

func (s *Source) Read() error {
	if s.canceled.Load() {
		return scan.ErrCanceled
	}
	h := s.page.Bounds().Dy()
	if s.next >= h {
		return io.EOF
	}
	time.Sleep(s.delay)
	s.next += s.step
	if s.next > h {
		s.next = h
	}
	return nil
}

func (s *Source) AvailableLines() (int, int) { return 0, s.next }

func (s *Source) Image(from, to int) image.Image {
	return s.page.SubImage(image.Rect(0, from, s.page.Bounds().Dx(), to))
}

func (s *Source) Result() image.Image { return s.page }

func (s *Source) Cancel() { s.canceled.Store(true) }

// Canceled reports whether Cancel was called
func (s *Source) Canceled() bool { return s.canceled.Load() }

// Engine is a simulated OCR engine. It reads Lines when the title mark is in
// the top-left corner and garbage otherwise.
type Engine struct {
	// Delay is the simulated recognition time per call.
	Delay time.Duration

	mu    sync.Mutex
	calls int
}

func (e *Engine) Name() string { return "sim" }

// Calls returns the number of Recognize calls so far
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Engine) Recognize(ctx context.Context, img image.Image, _ string) ([]ocr.LineBox, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.Delay):
		}
	}

	upright := markCorner(img) == 0
	b := img.Bounds()
	lineHeight := b.Dy() / (len(Lines) + 2)
	boxes := make([]ocr.LineBox, 0, len(Lines))
	for i, line := range Lines {
		if !upright {
			line = garble(line)
		}
		top := b.Min.Y + (i+1)*lineHeight
		box := ocr.LineBox{
			Content:  line,
			Position: image.Rect(b.Min.X, top, b.Max.X, top+lineHeight),
		}
		x := b.Min.X
		for _, word := range strings.Fields(line) {
			w := len(word) * b.Dx() / 60
			box.Words = append(box.Words, ocr.WordBox{
				Content:  word,
				Position: image.Rect(x, top, x+w, top+lineHeight),
			})
			x += w + b.Dx()/60
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// markCorner returns the darkest corner: 0 top-left, 1 top-right,
// 2 bottom-left, 3 bottom-right.
func markCorner(img image.Image) int {
	b := img.Bounds()
	cw, ch := b.Dx()/4, b.Dy()/4
	origins := []image.Point{
		{b.Min.X, b.Min.Y},
		{b.Max.X - cw, b.Min.Y},
		{b.Min.X, b.Max.Y - ch},
		{b.Max.X - cw, b.Max.Y - ch},
	}
	best, bestDark := 0, -1
	for i, o := range origins {
		dark := 0
		for y := o.Y; y < o.Y+ch; y++ {
			for x := o.X; x < o.X+cw; x++ {
				if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 0x80 {
					dark++
				}
			}
		}
		if dark > bestDark {
			best, bestDark = i, dark
		}
	}
	return best
}

var garbler = strings.NewReplacer("a", "4", "e", "3", "i", "1", "o", "0", "s", "5", "t", "7")

func garble(line string) string {
	return garbler.Replace(strings.ToLower(line))
}
