package scan

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil777/paperwork/pkg/jobs"
	"github.com/phil777/paperwork/pkg/models"
)

// fakeSource delivers step lines per Read
type fakeSource struct {
	width, height int
	step          int
	delay         time.Duration
	failAt        int
	next          int
	canceled      atomic.Bool
	reads         chan struct{}
}

func (s *fakeSource) ExpectedSize() (int, int) { return s.width, s.height }

func (s *fakeSource) Read() error {
	if s.reads != nil {
		select {
		case s.reads <- struct{}{}:
		default:
		}
	}
	if s.canceled.Load() {
		return ErrCanceled
	}
	if s.next >= s.height {
		return io.EOF
	}
	if s.failAt > 0 && s.next >= s.failAt {
		return errors.New("paper jam")
	}
	time.Sleep(s.delay)
	s.next += s.step
	if s.next > s.height {
		s.next = s.height
	}
	return nil
}

func (s *fakeSource) AvailableLines() (int, int) { return 0, s.next }

func (s *fakeSource) Image(from, to int) image.Image {
	return image.NewGray(image.Rect(0, from, s.width, to))
}

func (s *fakeSource) Result() image.Image {
	return image.NewGray(image.Rect(0, 0, s.width, s.height))
}

func (s *fakeSource) Cancel() { s.canceled.Store(true) }

type chunk struct{ from, to int }

type observer struct {
	NopObserver

	mu       sync.Mutex
	started  int
	width    int
	height   int
	chunks   []chunk
	done     image.Image
	canceled int
	err      error
}

func (o *observer) ScanStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observer) ScanInfo(w, h int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.width, o.height = w, h
}

func (o *observer) ScanChunk(line int, img image.Image) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks = append(o.chunks, chunk{line, line + img.Bounds().Dy()})
}

func (o *observer) ScanDone(img image.Image) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = img
}

func (o *observer) ScanCanceled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.canceled++
}

func (o *observer) ScanFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// covers checks that chunks tile [0, height) without gaps or overlap
func covers(t *testing.T, chunks []chunk, height int) {
	t.Helper()
	line := 0
	for _, c := range chunks {
		assert.Equal(t, line, c.from, "chunk must start where the previous one ended")
		line = c.to
	}
	assert.Equal(t, height, line)
}

func TestJob_FullScan(t *testing.T) {
	obs := &observer{}
	f := NewFactory(Config{}, obs, nil, nil)
	src := &fakeSource{width: 10, height: 100, step: 7}
	job := f.Make(src)

	assert.Equal(t, Priority, job.Priority())
	assert.True(t, job.CanStop())

	require.NoError(t, job.Do(context.Background()))

	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 10, obs.width)
	assert.Equal(t, 100, obs.height)
	assert.Len(t, obs.chunks, 15)
	covers(t, obs.chunks, 100)
	require.NotNil(t, obs.done)
	assert.Equal(t, 100, obs.done.Bounds().Dy())
}

func TestJob_ChunkCoalescing(t *testing.T) {
	obs := &observer{}
	f := NewFactory(Config{ChunkRate: 20}, obs, nil, nil)
	src := &fakeSource{width: 4, height: 200, step: 1, delay: time.Millisecond}

	require.NoError(t, f.Make(src).Do(context.Background()))

	assert.Less(t, len(obs.chunks), 200, "chunks are merged under the rate limit")
	covers(t, obs.chunks, 200)
	assert.NotNil(t, obs.done)
}

func TestJob_StopCancelsSource(t *testing.T) {
	obs := &observer{}
	f := NewFactory(Config{}, obs, nil, nil)
	src := &fakeSource{width: 4, height: 1000, step: 1, delay: time.Millisecond, reads: make(chan struct{})}
	job := f.Make(src)

	errCh := make(chan error, 1)
	go func() { errCh <- job.Do(context.Background()) }()
	<-src.reads
	job.Stop()

	assert.ErrorIs(t, <-errCh, jobs.ErrStopped)
	assert.True(t, src.canceled.Load())
	assert.Equal(t, 1, obs.canceled)
	assert.Nil(t, obs.done)
}

func TestJob_PauseAndResume(t *testing.T) {
	obs := &observer{}
	f := NewFactory(Config{}, obs, nil, nil)
	src := &fakeSource{width: 4, height: 300, step: 3, delay: time.Millisecond, reads: make(chan struct{})}
	job := f.Make(src)

	s := jobs.NewScheduler("scan")
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.Add(job))
	<-src.reads
	job.Pause()
	require.Eventually(t, func() bool {
		_, active := s.Active()
		return !active && job.State() == models.JobStateCanceled
	}, 2*time.Second, time.Millisecond)

	assert.False(t, src.canceled.Load(), "pause keeps the source open")
	paused := job.LastLine()
	assert.Greater(t, paused, 0)

	src.reads = nil
	require.NoError(t, s.Add(job))
	require.Eventually(t, func() bool { return job.State() == models.JobStateCompleted },
		2*time.Second, time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.started)
	assert.Equal(t, 1, obs.canceled)
	covers(t, obs.chunks, 300)
	assert.NotNil(t, obs.done)
}

func TestJob_ReadFailure(t *testing.T) {
	obs := &observer{}
	f := NewFactory(Config{}, obs, nil, nil)
	src := &fakeSource{width: 4, height: 100, step: 10, failAt: 50}

	err := f.Make(src).Do(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "paper jam")
	assert.ErrorContains(t, obs.err, "paper jam")
	covers(t, obs.chunks, 50)
	assert.Nil(t, obs.done)
}
