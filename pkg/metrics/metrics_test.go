package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil777/paperwork/pkg/models"
)

func TestMetrics_SchedulerCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QueueDepth("ocr", 3)
	m.ActiveJob("ocr", true)
	m.JobFinished("ocr", "OCR", models.JobStateCompleted, 120*time.Millisecond)
	m.JobFinished("ocr", "OCR", models.JobStateFailed, 0)
	m.DuplicateRejected("ocr")
	m.DuplicateRejected("ocr")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("ocr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeJobs.WithLabelValues("ocr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("ocr", "OCR", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("ocr", "OCR", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.duplicates.WithLabelValues("ocr")))

	// only the completed job had a duration
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestMetrics_EvaluatorCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.InFlight("ocr-orientation", 2)
	m.Evaluated("ocr-orientation", true)
	m.Evaluated("ocr-orientation", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evalInFlight.WithLabelValues("ocr-orientation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evalTotal.WithLabelValues("ocr-orientation", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evalTotal.WithLabelValues("ocr-orientation", "failed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
