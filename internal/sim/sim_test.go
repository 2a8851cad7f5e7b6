package sim

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil777/paperwork/pkg/ocr"
	"github.com/phil777/paperwork/pkg/scan"
)

func TestMarkCornerFollowsRotation(t *testing.T) {
	page := Page(80, 120)
	assert.Equal(t, 0, markCorner(page))

	tests := map[int]int{90: 2, 180: 3, 270: 1}
	for angle, corner := range tests {
		img, err := ocr.Rotate(page, angle)
		require.NoError(t, err)
		assert.Equal(t, corner, markCorner(img), "angle %d", angle)
	}
}

func TestEngineScoresUprightHighest(t *testing.T) {
	e := &Engine{}
	page := Page(80, 120)
	score := ocr.Scorer(nil, nil, "en")

	upright, err := e.Recognize(context.Background(), page, "eng")
	require.NoError(t, err)
	rotated, _ := ocr.Rotate(page, 180)
	upsideDown, err := e.Recognize(context.Background(), rotated, "eng")
	require.NoError(t, err)

	good, _ := score(ocr.Text(upright))
	bad, _ := score(ocr.Text(upsideDown))
	assert.Equal(t, 11.0, good)
	assert.Equal(t, 0.0, bad)
	assert.Equal(t, 2, e.Calls())
}

func TestSourceDeliversEveryLine(t *testing.T) {
	src := NewSource(Page(10, 25), 10, 0)
	assert.NotEmpty(t, src.ID)

	w, h := src.ExpectedSize()
	assert.Equal(t, 10, w)
	assert.Equal(t, 25, h)

	reads := 0
	for {
		err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		reads++
	}
	assert.Equal(t, 3, reads)
	_, next := src.AvailableLines()
	assert.Equal(t, 25, next)
	assert.Equal(t, 5, src.Image(20, 25).Bounds().Dy())

	src.Cancel()
	assert.ErrorIs(t, src.Read(), scan.ErrCanceled)
	assert.True(t, src.Canceled())
}
