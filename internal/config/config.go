// Package config handles loading and validating circbuf configuration.
package config

// Config is the top-level circbuf configuration.
type Config struct {
	Daemon   DaemonConfig             `toml:"daemon"`
	Limits   LimitsConfig             `toml:"limits"`
	Events   EventsConfig             `toml:"events"`
	Server   ServerConfig             `toml:"server"`
	Buffers  map[string]BufferConfig  `toml:"buffers"`
	Webhooks map[string]WebhookConfig `toml:"webhooks"`
	Include  []string                 `toml:"include"`
}

// DaemonConfig holds daemon-level settings.
type DaemonConfig struct {
	Logfile         string `toml:"logfile"`
	LogfileMaxbytes string `toml:"logfile_maxbytes"`
	LogfileBackups  int    `toml:"logfile_backups"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	Syslog          bool   `toml:"syslog"`
	PidFile         string `toml:"pid_file"`
	ShutdownTimeout int    `toml:"shutdown_timeout"`
}

// LimitsConfig bounds command names and buffer allocations.
type LimitsConfig struct {
	MaxNameLength    int `toml:"max_name_length"`
	MaxCommandLength int `toml:"max_command_length"`
	MaxChannels      int `toml:"max_channels"`
	MaxCapacity      int `toml:"max_capacity"`
	MaxSamples       int `toml:"max_samples"`
	MaxReadSamples   int `toml:"max_read_samples"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	History int `toml:"history"`
}

// ServerConfig holds server listener settings.
type ServerConfig struct {
	Unix UnixServerConfig `toml:"unix"`
	HTTP HTTPServerConfig `toml:"http"`
}

// UnixServerConfig holds Unix domain socket settings.
type UnixServerConfig struct {
	File  string `toml:"file"`
	Chmod string `toml:"chmod"`
}

// HTTPServerConfig holds HTTP server settings.
type HTTPServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Listen   string `toml:"listen"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// BufferConfig declares a buffer the daemon creates at startup.
type BufferConfig struct {
	Channels int  `toml:"channels"`
	Capacity int  `toml:"capacity"`
	Strict   bool `toml:"strict"`
}

// WebhookConfig holds per-webhook settings.
type WebhookConfig struct {
	URL           string            `toml:"url"`
	Events        []string          `toml:"events"`
	Headers       map[string]string `toml:"headers"`
	Timeout       int               `toml:"timeout"`
	Retries       int               `toml:"retries"`
	Template      string            `toml:"template"`
	AllowInsecure bool              `toml:"allow_insecure"`
}
