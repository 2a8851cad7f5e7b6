package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/phil777/paperwork/pkg/jobs"
)

type job struct {
	*jobs.Base
	err  error
	done chan struct{}
}

func (j *job) Do(context.Context) error {
	defer close(j.done)
	return j.err
}

func TestInitTracer_Disabled(t *testing.T) {
	p, err := InitTracer(Config{ServiceName: "paperwork"}, nil)
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSchedulerRecordsJobSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := NewWithExporter(Config{ServiceName: "paperwork"}, exp)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	s := jobs.NewScheduler("ocr", jobs.WithTracer(p.Tracer()))
	require.NoError(t, s.Start())
	defer s.Stop()

	f := jobs.NewFactory("OCR")
	ok := &job{Base: f.NewBase(5, false), done: make(chan struct{})}
	bad := &job{Base: f.NewBase(1, false), err: assert.AnError, done: make(chan struct{})}
	require.NoError(t, s.Add(ok))
	require.NoError(t, s.Add(bad))
	<-ok.done
	<-bad.done

	require.Eventually(t, func() bool { return len(exp.GetSpans()) == 2 }, time.Second, time.Millisecond)
	spans := exp.GetSpans()

	assert.Equal(t, "job.do", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("factory", "OCR"))
	assert.Contains(t, spans[0].Attributes, attribute.Int64("job.id", 0))
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}
