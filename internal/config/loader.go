package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/gpericol/BurberOste/pkg/audio"
)

// ValidRecorderNames lists the recorders that ship with the client.
// Used by [Validate] to warn about unrecognised recorder names.
var ValidRecorderNames = []string{"ffmpeg", "opus"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default], applies the
// remaining defaults and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Client
	if cfg.Client.LogLevel != "" && !cfg.Client.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Client.LogLevel))
	}

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("server.url scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme))
		}
		if u.Host == "" {
			errs = append(errs, fmt.Errorf("server.url %q has no host", cfg.Server.URL))
		}
	}
	switch cfg.Server.Protocol {
	case "", ProtocolSocketIO, ProtocolJSON:
	default:
		errs = append(errs, fmt.Errorf("server.protocol %q is invalid; valid values: socketio, json", cfg.Server.Protocol))
	}
	rc := cfg.Server.Reconnect
	if rc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("server.reconnect.max_retries %d must not be negative", rc.MaxRetries))
	}
	if rc.Backoff < 0 {
		errs = append(errs, fmt.Errorf("server.reconnect.backoff %s must not be negative", rc.Backoff))
	}
	if rc.MaxBackoff > 0 && rc.MaxBackoff < rc.Backoff {
		errs = append(errs, fmt.Errorf("server.reconnect.max_backoff %s is shorter than backoff %s", rc.MaxBackoff, rc.Backoff))
	}

	// Capture
	c := cfg.Capture
	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: single, streaming", c.Mode))
	}
	for _, d := range []struct {
		name  string
		value any
		bad   bool
	}{
		{"capture.max_duration", c.MaxDuration, c.MaxDuration < 0},
		{"capture.flush_interval", c.FlushInterval, c.FlushInterval < 0},
		{"capture.progress_interval", c.ProgressInterval, c.ProgressInterval < 0},
		{"capture.timeslice", c.Timeslice, c.Timeslice < 0},
		{"capture.finalize_timeout", c.FinalizeTimeout, c.FinalizeTimeout < 0},
	} {
		if d.bad {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", d.name, d.value))
		}
	}
	if c.Mode == audio.DeliveryStreaming && c.Timeslice > 0 && c.FlushInterval > 0 && c.Timeslice > c.FlushInterval {
		slog.Warn("capture.timeslice is longer than capture.flush_interval; some flushes will carry no audio",
			"timeslice", c.Timeslice,
			"flush_interval", c.FlushInterval,
		)
	}

	// Recorder
	if cfg.Recorder.Name == "" {
		errs = append(errs, errors.New("recorder.name is required"))
	} else if !slices.Contains(ValidRecorderNames, cfg.Recorder.Name) {
		slog.Warn("unknown recorder name, it must be registered before use",
			"name", cfg.Recorder.Name,
			"known", ValidRecorderNames,
		)
	}
	if cfg.Recorder.Name == "opus" && cfg.Recorder.OptString("file") == "" {
		errs = append(errs, errors.New("recorder.options.file is required for the opus recorder"))
	}

	return errors.Join(errs...)
}
