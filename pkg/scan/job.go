package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/phil777/paperwork/pkg/events"
	"github.com/phil777/paperwork/pkg/jobs"
	"github.com/phil777/paperwork/pkg/logging"
)

// Priority of scan jobs. A scan in progress goes ahead of queued OCR work.
const Priority = 10

// Observer receives scan job notifications through the factory's dispatcher
type Observer interface {
	ScanStarted()
	ScanInfo(width, height int)
	ScanChunk(line int, img image.Image)
	ScanDone(img image.Image)
	ScanCanceled()
	ScanFailed(err error)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ScanStarted()               {}
func (NopObserver) ScanInfo(int, int)          {}
func (NopObserver) ScanChunk(int, image.Image) {}
func (NopObserver) ScanDone(image.Image)       {}
func (NopObserver) ScanCanceled()              {}
func (NopObserver) ScanFailed(error)           {}

// Config holds scan job settings
type Config struct {
	// ChunkRate caps ScanChunk notifications per second. Zero or less sends
	// one chunk per read.
	ChunkRate float64
}

// Factory makes scan jobs
type Factory struct {
	*jobs.Factory

	cfg        Config
	observer   Observer
	dispatcher events.Dispatcher
	logger     *logging.Logger
}

// NewFactory creates the "Scan" job factory. A nil logger discards output.
func NewFactory(cfg Config, observer Observer, dispatcher events.Dispatcher, logger *logging.Logger) *Factory {
	if observer == nil {
		observer = NopObserver{}
	}
	if dispatcher == nil {
		dispatcher = events.Immediate{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Factory{
		Factory:    jobs.NewFactory("Scan"),
		cfg:        cfg,
		observer:   observer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Make creates a job acquiring one page from source
func (f *Factory) Make(source Source) *Job {
	return f.MakeWith(source, f.observer)
}

// MakeWith is Make with a job-specific observer
func (f *Factory) MakeWith(source Source, observer Observer) *Job {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Job{
		Base:     f.NewBase(Priority, true),
		factory:  f,
		source:   source,
		observer: observer,
	}
}

// Job acquires a page. Stop cancels the source; Pause leaves it open so that
// queuing the same job again resumes where it left off.
type Job struct {
	*jobs.Base

	factory  *Factory
	source   Source
	observer Observer

	// lastLine is the first line not yet sent as a chunk. It survives a
	// pause so a resumed job does not resend lines.
	lastLine   int
	willResume atomic.Bool
}

// LastLine returns the number of lines already delivered as chunks
func (j *Job) LastLine() int { return j.lastLine }

// Stop interrupts the scan and cancels the source
func (j *Job) Stop() {
	j.Base.Stop()
	if !j.willResume.Load() {
		j.source.Cancel()
	}
}

// Pause interrupts the scan without canceling the source
func (j *Job) Pause() {
	j.willResume.Store(true)
	j.Base.Stop()
}

func (j *Job) emit(fn func(Observer)) {
	obs := j.observer
	j.factory.dispatcher.Dispatch(func() { fn(obs) })
}

// Do reads the source until the page is complete or the job is stopped
func (j *Job) Do(ctx context.Context) error {
	defer j.willResume.Store(false)

	log := j.factory.logger.WithField("job", j.Handle().String())
	span := trace.SpanFromContext(ctx)

	limit := rate.Inf
	if j.factory.cfg.ChunkRate > 0 {
		limit = rate.Limit(j.factory.cfg.ChunkRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	log.Info("Scan started", map[string]interface{}{"resume_at": j.lastLine})
	j.emit(func(o Observer) { o.ScanStarted() })

	w, h := j.source.ExpectedSize()
	j.emit(func(o Observer) { o.ScanInfo(w, h) })

	chunks := 0
	flush := func() {
		_, next := j.source.AvailableLines()
		if next <= j.lastLine {
			return
		}
		line, chunk := j.lastLine, j.source.Image(j.lastLine, next)
		j.emit(func(o Observer) { o.ScanChunk(line, chunk) })
		j.lastLine = next
		chunks++
	}

	for {
		if j.StopRequested() {
			return j.canceled(log, flush)
		}
		err := j.source.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if j.StopRequested() {
				return j.canceled(log, flush)
			}
			flush()
			log.Error("Scan failed", map[string]interface{}{"error": err})
			j.emit(func(o Observer) { o.ScanFailed(err) })
			return fmt.Errorf("scan read: %w", err)
		}
		if limiter.Allow() {
			flush()
		}
		runtime.Gosched()
	}

	flush()
	img := j.source.Result()
	span.SetAttributes(
		attribute.Int("scan.lines", j.lastLine),
		attribute.Int("scan.chunks", chunks),
	)
	j.emit(func(o Observer) { o.ScanDone(img) })
	log.Info("Scan done", map[string]interface{}{"lines": j.lastLine, "chunks": chunks})
	return nil
}

func (j *Job) canceled(log *logging.Logger, flush func()) error {
	flush()
	log.Info("Scan canceled", map[string]interface{}{
		"line":   j.lastLine,
		"resume": j.willResume.Load(),
	})
	j.emit(func(o Observer) { o.ScanCanceled() })
	return jobs.ErrStopped
}
