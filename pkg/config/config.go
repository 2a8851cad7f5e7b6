// Package config loads paperwork settings from a YAML file, PAPERWORK_*
// environment variables and built-in defaults, in that order of precedence
// (environment first).
package config

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/phil777/paperwork/pkg/logging"
	"github.com/phil777/paperwork/pkg/ocr"
	"github.com/phil777/paperwork/pkg/scan"
	"github.com/phil777/paperwork/pkg/workflow"
)

// EnvPrefix prefixes every environment override, e.g. PAPERWORK_OCR_ANGLES
const EnvPrefix = "PAPERWORK"

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type ScanConfig struct {
	Resolution int     `mapstructure:"resolution" yaml:"resolution"`
	ChunkRate  float64 `mapstructure:"chunk_rate" yaml:"chunk_rate"`
}

type OCRConfig struct {
	Lang         string        `mapstructure:"lang" yaml:"lang"`
	SpellingLang string        `mapstructure:"spelling_lang" yaml:"spelling_lang"`
	Angles       int           `mapstructure:"angles" yaml:"angles"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// CalibrationConfig is the scanner bed area measured at Resolution.
// A zero Resolution disables cropping.
type CalibrationConfig struct {
	Resolution int `mapstructure:"resolution" yaml:"resolution"`
	X0         int `mapstructure:"x0" yaml:"x0"`
	Y0         int `mapstructure:"y0" yaml:"y0"`
	X1         int `mapstructure:"x1" yaml:"x1"`
	Y1         int `mapstructure:"y1" yaml:"y1"`
}

// ServerConfig configures the status server. TLS is on when both TLSCert
// and TLSKey are set; job cancellation needs a key when APIKeyHash is set.
type ServerConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	APIKeyHash  string `mapstructure:"api_key_hash" yaml:"api_key_hash"`
	TLSCert     string `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey      string `mapstructure:"tls_key" yaml:"tls_key"`
	TLSClientCA string `mapstructure:"tls_client_ca" yaml:"tls_client_ca"`

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool   `mapstructure:"insecure" yaml:"insecure"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Config is the complete paperwork configuration
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Scan        ScanConfig        `mapstructure:"scan" yaml:"scan"`
	OCR         OCRConfig         `mapstructure:"ocr" yaml:"ocr"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("scan.resolution", 300)
	v.SetDefault("scan.chunk_rate", 10.0)

	v.SetDefault("ocr.lang", "eng")
	v.SetDefault("ocr.spelling_lang", "en")
	v.SetDefault("ocr.angles", workflow.DefaultOCRAngles)
	v.SetDefault("ocr.concurrency", 0)
	v.SetDefault("ocr.poll_interval", "100ms")

	v.SetDefault("calibration.resolution", 0)
	v.SetDefault("calibration.x0", 0)
	v.SetDefault("calibration.y0", 0)
	v.SetDefault("calibration.x1", 0)
	v.SetDefault("calibration.y1", 0)

	v.SetDefault("server.addr", ":9095")
	v.SetDefault("server.api_key_hash", "")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.tls_client_ca", "")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "paperwork")
}

// Load reads the configuration. An explicit path must exist; without one,
// $HOME/.paperwork/config.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".paperwork"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.OCR.Angles < 1 || c.OCR.Angles > 4 {
		return fmt.Errorf("ocr.angles must be between 1 and 4, got %d", c.OCR.Angles)
	}
	if c.OCR.Concurrency < 0 {
		return fmt.Errorf("ocr.concurrency must not be negative, got %d", c.OCR.Concurrency)
	}
	if c.OCR.PollInterval <= 0 {
		return fmt.Errorf("ocr.poll_interval must be positive, got %s", c.OCR.PollInterval)
	}
	if c.Scan.Resolution <= 0 {
		return fmt.Errorf("scan.resolution must be positive, got %d", c.Scan.Resolution)
	}
	if c.Scan.ChunkRate < 0 {
		return fmt.Errorf("scan.chunk_rate must not be negative, got %v", c.Scan.ChunkRate)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if c.Calibration.Resolution < 0 {
		return fmt.Errorf("calibration.resolution must not be negative, got %d", c.Calibration.Resolution)
	}
	return nil
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// Workflow converts the configuration to workflow settings
func (c *Config) Workflow() workflow.Config {
	wc := workflow.Config{
		OCRAngles: c.OCR.Angles,
		Scan:      scan.Config{ChunkRate: c.Scan.ChunkRate},
		OCR: ocr.Config{
			Lang:         c.OCR.Lang,
			SpellingLang: c.OCR.SpellingLang,
			Concurrency:  c.OCR.Concurrency,
			PollInterval: c.OCR.PollInterval,
		},
	}
	if cal := c.Calibration; cal.Resolution > 0 {
		wc.Calibration = &workflow.Calibration{
			Resolution: cal.Resolution,
			Area:       image.Rect(cal.X0, cal.Y0, cal.X1, cal.Y1),
		}
	}
	return wc
}

// Dump writes the configuration as YAML
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
