package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level and the pipeline policy are applied without a restart;
// every other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PolicyChanged is true when min_chunk_bytes, stage_timeout or the retry
	// policy changed.
	PolicyChanged bool
	NewPipeline   PipelineConfig

	// RestartRequired names the config paths that changed but are only read
	// at startup.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PolicyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{NewPipeline: new.Pipeline}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Pipeline, new.Pipeline
	if op.MinChunkBytes != np.MinChunkBytes || op.StageTimeout != np.StageTimeout || op.Retry != np.Retry {
		d.PolicyChanged = true
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	restart("server", !reflect.DeepEqual(oldServer, newServer))
	restart("telephony", !reflect.DeepEqual(old.Telephony, new.Telephony))
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("bots", old.Bots != new.Bots)
	restart("pipeline.chunk_bytes", op.ChunkBytes != np.ChunkBytes)
	restart("pipeline.workers", op.Workers != np.Workers)
	restart("pipeline.queue_size", op.QueueSize != np.QueueSize)
	restart("storage", old.Storage != new.Storage)

	return d
}
