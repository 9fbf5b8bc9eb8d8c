package config

// Default values applied by ApplyDefaults.
const (
	DefaultSocketPath       = "/var/run/circbuf.sock"
	DefaultHTTPListen       = "127.0.0.1:9877"
	DefaultMaxNameLength    = 127
	DefaultMaxCommandLength = 63
	DefaultMaxChannels      = 1024
	DefaultMaxCapacity      = 16 * 1024 * 1024
	DefaultMaxSamples       = 256 * 1024 * 1024
	DefaultMaxReadSamples   = 16 * 1024 * 1024
	DefaultEventHistory     = 256
)

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.LogFormat == "" {
		cfg.Daemon.LogFormat = "json"
	}
	if cfg.Daemon.LogfileMaxbytes == "" {
		cfg.Daemon.LogfileMaxbytes = "50MB"
	}
	if cfg.Daemon.LogfileBackups == 0 {
		cfg.Daemon.LogfileBackups = 10
	}
	if cfg.Daemon.ShutdownTimeout == 0 {
		cfg.Daemon.ShutdownTimeout = 30
	}

	if cfg.Limits.MaxNameLength == 0 {
		cfg.Limits.MaxNameLength = DefaultMaxNameLength
	}
	if cfg.Limits.MaxCommandLength == 0 {
		cfg.Limits.MaxCommandLength = DefaultMaxCommandLength
	}
	if cfg.Limits.MaxChannels == 0 {
		cfg.Limits.MaxChannels = DefaultMaxChannels
	}
	if cfg.Limits.MaxCapacity == 0 {
		cfg.Limits.MaxCapacity = DefaultMaxCapacity
	}
	if cfg.Limits.MaxSamples == 0 {
		cfg.Limits.MaxSamples = DefaultMaxSamples
	}
	if cfg.Limits.MaxReadSamples == 0 {
		cfg.Limits.MaxReadSamples = DefaultMaxReadSamples
	}

	if cfg.Events.History == 0 {
		cfg.Events.History = DefaultEventHistory
	}

	if cfg.Server.Unix.File == "" {
		cfg.Server.Unix.File = DefaultSocketPath
	}
	if cfg.Server.Unix.Chmod == "" {
		cfg.Server.Unix.Chmod = "0700"
	}
	if cfg.Server.HTTP.Listen == "" {
		cfg.Server.HTTP.Listen = DefaultHTTPListen
	}

	for name, wh := range cfg.Webhooks {
		if wh.Timeout == 0 {
			wh.Timeout = 5
		}
		if wh.Retries == 0 {
			wh.Retries = 3
		}
		if wh.Template == "" {
			wh.Template = "generic"
		}
		cfg.Webhooks[name] = wh
	}
}
