// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/parse"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/tracer"
)

const (
	EnvLogLevel = "OTEL_LIVE_LOG_LEVEL"

	defaultListen    = "127.0.0.1:7777"
	defaultDebounce  = 200 * time.Millisecond
	defaultCacheSize = 1024
)

// Config is the agent configuration file.
type Config struct {
	LogLevel      string        `yaml:"log_level"`
	ServiceName   string        `yaml:"service_name"`
	Exporter      string        `yaml:"exporter"`
	Listen        string        `yaml:"listen"`
	ExtensionsDir string        `yaml:"extensions_dir"`
	ClassDirs     []string      `yaml:"class_dirs"`
	Concurrency   int           `yaml:"retransform_concurrency"`
	ScannerCache  uint32        `yaml:"scanner_cache_size"`
	Debounce      time.Duration `yaml:"debounce"`

	// TraceAnnotations are method markers traced without any directive.
	TraceAnnotations []string         `yaml:"trace_annotations"`
	MetricPrefix     string           `yaml:"metric_prefix"`
	Pointcuts        []parse.Pointcut `yaml:"pointcuts"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		ServiceName:  "live-instrumentation",
		Exporter:     tracer.ExporterNone,
		Listen:       defaultListen,
		ScannerCache: defaultCacheSize,
		Debounce:     defaultDebounce,
		MetricPrefix: pointcut.DefaultMetricPrefix,
	}
}

// LoadConfig reads the configuration file at path on top of the defaults.
// An empty path yields the defaults. The environment overrides the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, ex.Wrapf(err, "failed to read config %s", path)
		}
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err = dec.Decode(cfg); err != nil && len(bytes.TrimSpace(content)) > 0 {
			return nil, ex.Wrapf(err, "failed to decode config %s", path)
		}
	}
	if level, ok := os.LookupEnv(EnvLogLevel); ok && level != "" {
		cfg.LogLevel = level
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return cfg, nil
}
