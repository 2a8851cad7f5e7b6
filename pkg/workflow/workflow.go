// Package workflow chains page acquisition and recognition: a scan runs on
// the scan scheduler, and its page can be handed to the OCR scheduler once
// complete.
package workflow

import (
	"image"
	"image/draw"

	"github.com/phil777/paperwork/pkg/evaluator"
	"github.com/phil777/paperwork/pkg/events"
	"github.com/phil777/paperwork/pkg/jobs"
	"github.com/phil777/paperwork/pkg/logging"
	"github.com/phil777/paperwork/pkg/ocr"
	"github.com/phil777/paperwork/pkg/scan"
)

// DefaultOCRAngles is the number of orientations tried when none is given
const DefaultOCRAngles = 4

// Observer receives workflow notifications on the workflow's dispatcher
type Observer interface {
	ScanStart()
	// ScanDone receives the cropped page, or nil if the scan was canceled.
	ScanDone(img image.Image)
	ScanError(err error)
	OCRStart(img image.Image)
	// OCRDone receives the page in its best orientation.
	OCRDone(img image.Image, boxes []ocr.LineBox)
	OCRCanceled()
	OCRError(err error)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ScanStart()                         {}
func (NopObserver) ScanDone(image.Image)               {}
func (NopObserver) ScanError(error)                    {}
func (NopObserver) OCRStart(image.Image)               {}
func (NopObserver) OCRDone(image.Image, []ocr.LineBox) {}
func (NopObserver) OCRCanceled()                       {}
func (NopObserver) OCRError(error)                     {}

// Calibration is the useful area of the scanner bed, measured at Resolution
type Calibration struct {
	Resolution int
	Area       image.Rectangle
}

// Scale converts the calibrated area to resolution
func (c Calibration) Scale(resolution int) image.Rectangle {
	if c.Resolution <= 0 || resolution == c.Resolution {
		return c.Area
	}
	scale := func(v int) int { return v * resolution / c.Resolution }
	return image.Rect(scale(c.Area.Min.X), scale(c.Area.Min.Y), scale(c.Area.Max.X), scale(c.Area.Max.Y))
}

// Config holds workflow settings
type Config struct {
	OCRAngles   int
	Calibration *Calibration
	Scan        scan.Config
	OCR         ocr.Config
}

// Option configures a Workflow
type Option func(*options)

type options struct {
	logger     *logging.Logger
	dispatcher events.Dispatcher
	checker    ocr.SpellChecker
	recorder   evaluator.Recorder
}

// WithLogger sets the logger shared by the workflow and its jobs
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDispatcher sets where notifications are delivered
func WithDispatcher(d events.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithSpellChecker sets the OCR spell checker
func WithSpellChecker(c ocr.SpellChecker) Option {
	return func(o *options) { o.checker = c }
}

// WithRecorder sets the evaluator metrics recorder
func WithRecorder(r evaluator.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// Workflow owns the scan and OCR job factories. The schedulers are passed in
// and stay owned by the caller.
type Workflow struct {
	cfg      Config
	observer Observer
	logger   *logging.Logger

	scanScheduler *jobs.Scheduler
	ocrScheduler  *jobs.Scheduler

	ScanFactory *scan.Factory
	OCRFactory  *ocr.Factory
}

// New creates a workflow. engine may be nil; OCR then fails with ocr.ErrNoEngine.
func New(cfg Config, scanScheduler, ocrScheduler *jobs.Scheduler, engine ocr.Engine, observer Observer, opts ...Option) *Workflow {
	o := options{logger: logging.Nop(), dispatcher: events.Immediate{}}
	for _, opt := range opts {
		opt(&o)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if cfg.OCRAngles == 0 {
		cfg.OCRAngles = DefaultOCRAngles
	}

	w := &Workflow{
		cfg:           cfg,
		observer:      observer,
		logger:        o.logger.WithField("component", "workflow"),
		scanScheduler: scanScheduler,
		ocrScheduler:  ocrScheduler,
	}
	w.ScanFactory = scan.NewFactory(cfg.Scan, nil, o.dispatcher, o.logger)

	ocrOpts := []ocr.Option{ocr.WithLogger(o.logger)}
	if o.checker != nil {
		ocrOpts = append(ocrOpts, ocr.WithSpellChecker(o.checker))
	}
	if o.recorder != nil {
		ocrOpts = append(ocrOpts, ocr.WithRecorder(o.recorder))
	}
	w.OCRFactory = ocr.NewFactory(engine, cfg.OCR, &ocrEvents{w: w}, o.dispatcher, ocrOpts...)
	return w
}

// Scan queues a scan at resolution and returns immediately. ScanDone reports
// the result.
func (w *Workflow) Scan(resolution int, source scan.Source) (*scan.Job, error) {
	return w.scan(resolution, source, false)
}

// ScanAndOCR queues a scan and, if it completes, an OCR of the scanned page.
func (w *Workflow) ScanAndOCR(resolution int, source scan.Source) (*scan.Job, error) {
	return w.scan(resolution, source, true)
}

func (w *Workflow) scan(resolution int, source scan.Source, chain bool) (*scan.Job, error) {
	ev := &scanEvents{w: w, chain: chain}
	if w.cfg.Calibration != nil {
		crop := w.cfg.Calibration.Scale(resolution)
		ev.crop = &crop
	}
	job := w.ScanFactory.MakeWith(source, ev)
	w.logger.Info("Scheduling scan", map[string]interface{}{
		"job":        job.Handle().String(),
		"resolution": resolution,
		"ocr":        chain,
	})
	if err := w.scanScheduler.Schedule(job); err != nil {
		return nil, err
	}
	return job, nil
}

// OCR queues recognition of img in its first angles orientations; zero uses
// the configured default.
func (w *Workflow) OCR(img image.Image, angles int) (*ocr.Job, error) {
	if angles == 0 {
		angles = w.cfg.OCRAngles
	}
	job, err := w.OCRFactory.Make(img, angles)
	if err != nil {
		return nil, err
	}
	w.logger.Info("Scheduling OCR", map[string]interface{}{
		"job":    job.Handle().String(),
		"angles": angles,
	})
	if err := w.ocrScheduler.Schedule(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Cancel stops every scan and OCR job this workflow created
func (w *Workflow) Cancel() int {
	n := w.scanScheduler.CancelAll(w.ScanFactory.Factory)
	n += w.ocrScheduler.CancelAll(w.OCRFactory.Factory)
	return n
}

// Crop returns the part of img inside area, clipped to the image bounds
func Crop(img image.Image, area image.Rectangle) image.Image {
	area = area.Intersect(img.Bounds())
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(area)
	}
	dst := image.NewRGBA(image.Rect(0, 0, area.Dx(), area.Dy()))
	draw.Draw(dst, dst.Bounds(), img, area.Min, draw.Src)
	return dst
}

type scanEvents struct {
	scan.NopObserver

	w     *Workflow
	chain bool
	crop  *image.Rectangle
}

func (e *scanEvents) ScanStarted() { e.w.observer.ScanStart() }

func (e *scanEvents) ScanDone(img image.Image) {
	if e.crop != nil {
		img = Crop(img, *e.crop)
	}
	e.w.observer.ScanDone(img)
	if !e.chain {
		return
	}
	if _, err := e.w.OCR(img, 0); err != nil {
		e.w.logger.Error("Failed to schedule OCR", map[string]interface{}{"error": err})
		e.w.observer.OCRError(err)
	}
}

func (e *scanEvents) ScanCanceled() { e.w.observer.ScanDone(nil) }

func (e *scanEvents) ScanFailed(err error) { e.w.observer.ScanError(err) }

type ocrEvents struct {
	ocr.NopObserver

	w *Workflow
}

func (e *ocrEvents) OCRStarted(img image.Image) { e.w.observer.OCRStart(img) }

func (e *ocrEvents) OCRDone(angle int, img image.Image, boxes []ocr.LineBox) {
	e.w.logger.Info("OCR done", map[string]interface{}{"angle": angle, "lines": len(boxes)})
	e.w.observer.OCRDone(img, boxes)
}

func (e *ocrEvents) OCRCanceled() { e.w.observer.OCRCanceled() }

func (e *ocrEvents) OCRFailed(err error) { e.w.observer.OCRError(err) }
