package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/phil777/paperwork/pkg/evaluator"
	"github.com/phil777/paperwork/pkg/events"
	"github.com/phil777/paperwork/pkg/jobs"
	"github.com/phil777/paperwork/pkg/logging"
)

// Priority of OCR jobs. Scans outrank them.
const Priority = 5

var (
	// ErrNoEngine is returned by Factory.Make when no OCR engine is available.
	ErrNoEngine = errors.New("no OCR engine available")
	// ErrInvalidAngles is returned for an orientation count outside 1..4.
	ErrInvalidAngles = errors.New("number of orientations must be between 1 and 4")
)

// Observer receives OCR job notifications through the factory's dispatcher
type Observer interface {
	OCRStarted(img image.Image)
	OCRAngles(imgs map[int]image.Image)
	OCRScore(angle int, score float64)
	OCRDone(angle int, img image.Image, boxes []LineBox)
	OCRCanceled()
	OCRFailed(err error)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OCRStarted(image.Image)              {}
func (NopObserver) OCRAngles(map[int]image.Image)       {}
func (NopObserver) OCRScore(int, float64)               {}
func (NopObserver) OCRDone(int, image.Image, []LineBox) {}
func (NopObserver) OCRCanceled()                        {}
func (NopObserver) OCRFailed(error)                     {}

// Config holds recognition settings
type Config struct {
	Lang         string
	SpellingLang string

	// Concurrency bounds parallel recognitions; zero means one per CPU core.
	Concurrency  int
	PollInterval time.Duration
}

// Option configures a Factory
type Option func(*Factory)

// WithLogger sets the factory logger
func WithLogger(l *logging.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithSpellChecker sets the checker used by the preferred scoring strategy
func WithSpellChecker(c SpellChecker) Option {
	return func(f *Factory) { f.checker = c }
}

// WithRecorder sets the evaluator metrics recorder
func WithRecorder(r evaluator.Recorder) Option {
	return func(f *Factory) { f.recorder = r }
}

// Factory makes OCR jobs
type Factory struct {
	*jobs.Factory

	engine     Engine
	cfg        Config
	observer   Observer
	dispatcher events.Dispatcher
	checker    SpellChecker
	logger     *logging.Logger
	recorder   evaluator.Recorder
}

// NewFactory creates the "OCR" job factory. engine may be nil, in which case
// Make fails.
func NewFactory(engine Engine, cfg Config, observer Observer, dispatcher events.Dispatcher, opts ...Option) *Factory {
	f := &Factory{
		Factory:    jobs.NewFactory("OCR"),
		engine:     engine,
		cfg:        cfg,
		observer:   observer,
		dispatcher: dispatcher,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.observer == nil {
		f.observer = NopObserver{}
	}
	if f.dispatcher == nil {
		f.dispatcher = events.Immediate{}
	}
	return f
}

// Make creates a job recognizing img in its first nbAngles orientations
func (f *Factory) Make(img image.Image, nbAngles int) (*Job, error) {
	if f.engine == nil {
		return nil, ErrNoEngine
	}
	if nbAngles < 1 || nbAngles > 4 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAngles, nbAngles)
	}
	return &Job{
		Base:    f.NewBase(Priority, true),
		factory: f,
		img:     img,
		angles:  Angles(nbAngles),
	}, nil
}

// Job recognizes one page in several orientations and reports the best one.
// Stopping it cancels the evaluation: no further orientation starts, those
// already running finish, and the job reports OCRCanceled.
type Job struct {
	*jobs.Base

	factory *Factory
	img     image.Image
	angles  []int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Angles returns the orientations the job evaluates
func (j *Job) Angles() []int {
	return append([]int(nil), j.angles...)
}

// Stop cancels the running evaluation
func (j *Job) Stop() {
	j.Base.Stop()
	j.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	j.mu.Unlock()
}

func (j *Job) emit(fn func(Observer)) {
	obs := j.factory.observer
	j.factory.dispatcher.Dispatch(func() { fn(obs) })
}

// Do runs recognition on every orientation
func (j *Job) Do(ctx context.Context) error {
	f := j.factory
	log := f.logger.WithField("job", j.Handle().String())

	if j.StopRequested() {
		j.emit(func(o Observer) { o.OCRCanceled() })
		return jobs.ErrStopped
	}

	imgs := make(map[int]image.Image, len(j.angles))
	candidates := make([]evaluator.Candidate[image.Image], 0, len(j.angles))
	for _, angle := range j.angles {
		rotated, err := Rotate(j.img, angle)
		if err != nil {
			j.emit(func(o Observer) { o.OCRFailed(err) })
			return err
		}
		imgs[angle] = rotated
		candidates = append(candidates, evaluator.Candidate[image.Image]{Tag: angle, Input: rotated})
	}
	angles := make(map[int]image.Image, len(imgs))
	for k, v := range imgs {
		angles[k] = v
	}

	j.emit(func(o Observer) { o.OCRStarted(j.img) })
	j.emit(func(o Observer) { o.OCRAngles(angles) })

	evalCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.cancel = nil
		j.mu.Unlock()
	}()
	// Stop may have run before cancel was published
	if j.StopRequested() {
		cancel()
	}

	span := trace.SpanFromContext(ctx)
	score := Scorer(log, f.checker, f.cfg.SpellingLang)
	ev := &evaluator.Evaluator[image.Image, []LineBox]{
		Name:         "ocr",
		Concurrency:  f.cfg.Concurrency,
		PollInterval: f.cfg.PollInterval,
		Logger:       log,
		Recorder:     f.recorder,
		OnProgress: func(o evaluator.Outcome[[]LineBox]) {
			log.Info("OCR done on angle", map[string]interface{}{
				"angle": o.Tag,
				"score": o.Score,
			})
			span.AddEvent("orientation scored", trace.WithAttributes(
				attribute.Int("ocr.angle", o.Tag),
				attribute.Float64("ocr.score", o.Score),
			))
			j.emit(func(obs Observer) { obs.OCRScore(o.Tag, o.Score) })
		},
	}

	log.Debug("Starting OCR", map[string]interface{}{
		"engine": f.engine.Name(),
		"angles": len(candidates),
	})
	best, _, err := ev.Run(evalCtx, candidates, func(ctx context.Context, img image.Image) ([]LineBox, float64, error) {
		boxes, err := f.engine.Recognize(ctx, img, f.cfg.Lang)
		if err != nil {
			return nil, 0, err
		}
		s, err := score(Text(boxes))
		if err != nil {
			return boxes, math.Inf(-1), nil
		}
		return boxes, s, nil
	})

	switch {
	case err == nil:
	case j.StopRequested():
		// recognitions interrupted by Stop fail with the context error
		log.Info("OCR canceled", map[string]interface{}{"error": err})
		j.emit(func(o Observer) { o.OCRCanceled() })
		return jobs.ErrStopped
	default:
		j.emit(func(o Observer) { o.OCRFailed(err) })
		return err
	}

	log.Info("Best orientation", map[string]interface{}{
		"angle": best.Tag,
		"score": best.Score,
	})
	img := imgs[best.Tag]
	j.emit(func(o Observer) { o.OCRDone(best.Tag, img, best.Payload) })
	return nil
}
