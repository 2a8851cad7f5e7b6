package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil777/paperwork/internal/sim"
	"github.com/phil777/paperwork/pkg/config"
	"github.com/phil777/paperwork/pkg/logging"
	"github.com/phil777/paperwork/pkg/workflow"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestRun_RecognizesSidewaysPage(t *testing.T) {
	out := execute(t, "run", "--width", "120", "--height", "160", "--rotate", "270",
		"--engine-delay", "0", "--dump-metrics")

	assert.Contains(t, out, "Paperwork")
	assert.Contains(t, out, "Upright:  (120,160)")
	assert.Contains(t, out, `paperwork_scheduler_jobs_total{factory="OCR",scheduler="ocr",state="completed"} 1`)
}

func TestEvaluate_MarksBestAngle(t *testing.T) {
	out := execute(t, "evaluate", "--width", "80", "--height", "100", "--rotate", "90", "--engine-delay", "0")

	assert.Contains(t, out, "First line: "+sim.Lines[0])
	assert.Contains(t, out, "270")
}

func TestConfigShow(t *testing.T) {
	t.Setenv("PAPERWORK_OCR_ANGLES", "2")
	out := execute(t, "config", "show")

	assert.Contains(t, out, "angles: 2")
	assert.Contains(t, out, "9095")
}

func TestConfigHashKey(t *testing.T) {
	out := execute(t, "config", "hash-key", "s3cret")
	assert.Contains(t, out, "hash: $2a$")
	assert.NotContains(t, out, "key:")
}

func TestPipeline_StopTwiceIsQuiet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := config.Load("")
	require.NoError(t, err)

	var logs bytes.Buffer
	prevCfg, prevLogger := cfg, logger
	t.Cleanup(func() { cfg, logger = prevCfg, prevLogger })
	cfg = c
	logger = logging.NewLogger(logging.ERROR, false)
	logger.SetOutput(&logs)

	p := newPipeline(workflow.NopObserver{}, &sim.Engine{}, nil)
	require.NoError(t, p.start())
	p.stop()
	p.stop()

	assert.Empty(t, logs.String())
}
