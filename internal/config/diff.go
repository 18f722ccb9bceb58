package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the NPC display name can be applied to a running client; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	NPCNameChanged bool
	NewNPCName     string

	// RestartRequired names the top-level sections (or keys) whose changes
	// only take effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.NPCNameChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Client.LogLevel != new.Client.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Client.LogLevel
	}
	if old.NPC.Name != new.NPC.Name {
		d.NPCNameChanged = true
		d.NewNPCName = new.NPC.Name
	}

	if old.Client.LogFile != new.Client.LogFile {
		d.RestartRequired = append(d.RestartRequired, "client.log_file")
	}
	if !reflect.DeepEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Capture, new.Capture) {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !reflect.DeepEqual(old.Recorder, new.Recorder) {
		d.RestartRequired = append(d.RestartRequired, "recorder")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
