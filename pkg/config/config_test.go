package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/phil777/paperwork/pkg/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 300, cfg.Scan.Resolution)
	assert.Equal(t, 4, cfg.OCR.Angles)
	assert.Equal(t, 100*time.Millisecond, cfg.OCR.PollInterval)
	assert.Equal(t, ":9095", cfg.Server.Addr)
	assert.Equal(t, 20.0, cfg.Server.RateLimit)
	assert.Nil(t, cfg.Workflow().Calibration)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
ocr:
  angles: 2
  poll_interval: 5ms
calibration:
  resolution: 150
  x0: 10
  y0: 20
  x1: 110
  y1: 220
`)
	t.Setenv("PAPERWORK_OCR_LANG", "fra")
	t.Setenv("PAPERWORK_OCR_ANGLES", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logging.DEBUG, cfg.LogLevel())
	assert.Equal(t, "fra", cfg.OCR.Lang)
	assert.Equal(t, 3, cfg.OCR.Angles, "environment wins over the file")
	assert.Equal(t, 5*time.Millisecond, cfg.OCR.PollInterval)

	wc := cfg.Workflow()
	require.NotNil(t, wc.Calibration)
	assert.Equal(t, 150, wc.Calibration.Resolution)
	assert.Equal(t, 100, wc.Calibration.Area.Dx())
	assert.Equal(t, "fra", wc.OCR.Lang)
	assert.Equal(t, 3, wc.OCRAngles)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"too many angles", "ocr:\n  angles: 5\n"},
		{"negative concurrency", "ocr:\n  concurrency: -1\n"},
		{"zero resolution", "scan:\n  resolution: 0\n"},
		{"negative chunk rate", "scan:\n  chunk_rate: -2\n"},
		{"cert without key", "server:\n  tls_cert: cert.pem\n"},
		{"negative rate limit", "server:\n  rate_limit: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDump_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, cfg))
	assert.Contains(t, buf.String(), "poll_interval: 100ms")

	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Contains(t, back, "ocr")

	reloaded, err := Load(writeConfig(t, buf.String()))
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}
