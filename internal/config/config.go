// Package config provides the configuration schema, loader, and recorder
// registry for the BurberOste voice client.
package config

import (
	"log/slog"
	"time"

	"github.com/gpericol/BurberOste/pkg/audio"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults used by [Default] and [ApplyDefaults].
const (
	DefaultServerURL        = "http://localhost:5000"
	DefaultProtocol         = ProtocolSocketIO
	DefaultMaxDuration      = 8 * time.Second
	DefaultFlushInterval    = time.Second
	DefaultProgressInterval = 100 * time.Millisecond
	DefaultTimeslice        = 250 * time.Millisecond
	DefaultFinalizeTimeout  = 2 * time.Second
	DefaultMaxRetries       = 10
	DefaultBackoff          = time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultRecorder         = "ffmpeg"
	DefaultServiceName      = "burberoste"
	DefaultNPCName          = "Burbero Oste"
)

// Config is the root configuration structure for the client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Recorder  RecorderEntry   `yaml:"recorder"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	NPC       NPCConfig       `yaml:"npc"`
}

// ClientConfig holds logging settings.
type ClientConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives log output. Required for the terminal UI, which owns
	// stderr; headless runs log to stderr when it is empty.
	LogFile string `yaml:"log_file"`
}

// Wire protocols spoken to the NPC server.
const (
	// ProtocolSocketIO frames events as Socket.IO v4 packets over the
	// Engine.IO websocket transport, as a Flask-SocketIO server expects.
	ProtocolSocketIO = "socketio"

	// ProtocolJSON sends one {"event","data"} JSON object per websocket
	// message.
	ProtocolJSON = "json"
)

// ServerConfig locates the NPC service.
type ServerConfig struct {
	// URL is the server endpoint (ws, wss, http or https). With the socketio
	// protocol an empty path means /socket.io/.
	URL string `yaml:"url"`

	// Protocol is "socketio" (default) or "json".
	Protocol string `yaml:"protocol"`

	// Reconnect bounds the reconnection policy after a dropped connection.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig is an exponential backoff policy.
type ReconnectConfig struct {
	// MaxRetries is the number of consecutive failed attempts before giving
	// up. Zero disables reconnection.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the first retry delay.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// CaptureConfig tunes the capture controller.
type CaptureConfig struct {
	// Mode selects single or streaming delivery.
	Mode audio.DeliveryMode `yaml:"mode"`

	// MaxDuration stops a recording automatically. "0s" disables the limit.
	MaxDuration time.Duration `yaml:"max_duration"`

	// FlushInterval is the streaming segment period.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// ProgressInterval is the progress bar refresh period.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// Timeslice is how often a streaming recorder hands over data.
	Timeslice time.Duration `yaml:"timeslice"`

	// FinalizeTimeout bounds the wait for the recorder after a stop.
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`

	// RetainSeed re-sends the last chunk of each streaming segment as the
	// prefix of the next. Off by default: a server that appends audio_data
	// payloads would end up with duplicated byte ranges.
	RetainSeed bool `yaml:"retain_seed"`

	// Constraints are the audio processing features requested from the
	// microphone.
	Constraints ConstraintsConfig `yaml:"constraints"`
}

// ConstraintsConfig mirrors [capture.Constraints].
type ConstraintsConfig struct {
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
}

// RecorderEntry selects the recording backend. The Name field is used to look
// up the constructor in the [Registry].
type RecorderEntry struct {
	// Name selects the registered recorder (e.g., "ffmpeg", "opus").
	Name string `yaml:"name"`

	// Options holds recorder-specific values. Values may be strings,
	// numbers or booleans.
	Options map[string]any `yaml:"options"`
}

// OptString returns the string option key, or "" when absent or not a string.
func (e RecorderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns the integer option key, or 0 when absent or not an integer.
func (e RecorderEntry) OptInt(key string) int {
	n, _ := e.Options[key].(int)
	return n
}

// OptBool returns the boolean option key, or false when absent or not a
// boolean.
func (e RecorderEntry) OptBool(key string) bool {
	b, _ := e.Options[key].(bool)
	return b
}

// TelemetryConfig configures the local metrics and health endpoint.
type TelemetryConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. Empty disables the
	// endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// ServiceName is the OpenTelemetry service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}

// NPCConfig describes the character the player talks to.
type NPCConfig struct {
	// Name is shown when a reply carries no npc_name.
	Name string `yaml:"name"`
}

// Default returns a configuration with every field at its default. The loader
// decodes YAML on top of it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Client: ClientConfig{LogLevel: LogInfo},
		Server: ServerConfig{
			URL:      DefaultServerURL,
			Protocol: DefaultProtocol,
			Reconnect: ReconnectConfig{
				MaxRetries: DefaultMaxRetries,
				Backoff:    DefaultBackoff,
				MaxBackoff: DefaultMaxBackoff,
			},
		},
		Capture: CaptureConfig{
			Mode:             audio.DeliverySingle,
			MaxDuration:      DefaultMaxDuration,
			FlushInterval:    DefaultFlushInterval,
			ProgressInterval: DefaultProgressInterval,
			Timeslice:        DefaultTimeslice,
			FinalizeTimeout:  DefaultFinalizeTimeout,
			Constraints: ConstraintsConfig{
				EchoCancellation: true,
				NoiseSuppression: true,
				AutoGainControl:  true,
			},
		},
		Recorder:  RecorderEntry{Name: DefaultRecorder},
		Telemetry: TelemetryConfig{ServiceName: DefaultServiceName},
		NPC:       NPCConfig{Name: DefaultNPCName},
	}
}

// ApplyDefaults fills fields that have no meaningful zero value. It leaves
// MaxDuration and MaxRetries alone because zero is a valid setting for both.
func ApplyDefaults(cfg *Config) {
	if cfg.Client.LogLevel == "" {
		cfg.Client.LogLevel = LogInfo
	}
	if cfg.Server.Protocol == "" {
		cfg.Server.Protocol = DefaultProtocol
	}
	if cfg.Server.Reconnect.Backoff == 0 {
		cfg.Server.Reconnect.Backoff = DefaultBackoff
	}
	if cfg.Server.Reconnect.MaxBackoff == 0 {
		cfg.Server.Reconnect.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Capture.Mode == "" {
		cfg.Capture.Mode = audio.DeliverySingle
	}
	if cfg.Capture.FlushInterval == 0 {
		cfg.Capture.FlushInterval = DefaultFlushInterval
	}
	if cfg.Capture.ProgressInterval == 0 {
		cfg.Capture.ProgressInterval = DefaultProgressInterval
	}
	if cfg.Capture.Timeslice == 0 {
		cfg.Capture.Timeslice = DefaultTimeslice
	}
	if cfg.Capture.FinalizeTimeout == 0 {
		cfg.Capture.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if cfg.Recorder.Name == "" {
		cfg.Recorder.Name = DefaultRecorder
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.NPC.Name == "" {
		cfg.NPC.Name = DefaultNPCName
	}
}
