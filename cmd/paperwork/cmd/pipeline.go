package cmd

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/phil777/paperwork/internal/sim"
	"github.com/phil777/paperwork/pkg/events"
	"github.com/phil777/paperwork/pkg/jobs"
	"github.com/phil777/paperwork/pkg/metrics"
	"github.com/phil777/paperwork/pkg/workflow"
)

// pipeline is the scan and OCR schedulers plus the workflow feeding them
type pipeline struct {
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	loop     *events.Loop
	engine   *sim.Engine

	scanScheduler *jobs.Scheduler
	ocrScheduler  *jobs.Scheduler
	workflow      *workflow.Workflow
}

func newPipeline(observer workflow.Observer, engine *sim.Engine, tracer trace.Tracer) *pipeline {
	p := &pipeline{
		registry: prometheus.NewRegistry(),
		loop:     events.NewLoop(logger),
		engine:   engine,
	}
	p.metrics = metrics.New(p.registry)

	opts := []jobs.Option{jobs.WithLogger(logger), jobs.WithRecorder(p.metrics)}
	if tracer != nil {
		opts = append(opts, jobs.WithTracer(tracer))
	}
	p.scanScheduler = jobs.NewScheduler("scan", opts...)
	p.ocrScheduler = jobs.NewScheduler("ocr", opts...)

	p.workflow = workflow.New(cfg.Workflow(), p.scanScheduler, p.ocrScheduler, engine, observer,
		workflow.WithLogger(logger),
		workflow.WithDispatcher(p.loop),
		workflow.WithRecorder(p.metrics),
	)
	return p
}

func (p *pipeline) start() error {
	if err := p.scanScheduler.Start(); err != nil {
		return err
	}
	return p.ocrScheduler.Start()
}

// stop halts both schedulers and delivers pending notifications. It may be
// called more than once.
func (p *pipeline) stop() {
	for _, s := range []*jobs.Scheduler{p.scanScheduler, p.ocrScheduler} {
		if err := s.Stop(); err != nil && !errors.Is(err, jobs.ErrNotRunning) {
			logger.Error("Failed to stop scheduler", map[string]interface{}{
				"scheduler": s.Name(),
				"error":     err,
			})
		}
	}
	p.loop.Close()
}
