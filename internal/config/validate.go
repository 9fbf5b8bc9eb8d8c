package config

import (
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kahiteam/circbuf/internal/events"
	"github.com/kahiteam/circbuf/internal/logging"
)

var validTemplates = map[string]bool{"generic": true, "slack": true}

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error
	errs = append(errs, validateDaemon(cfg.Daemon)...)
	errs = append(errs, validateLimits(cfg.Limits)...)

	if cfg.Events.History < 0 {
		errs = append(errs, fmt.Errorf("events.history must be >= 0, got %d", cfg.Events.History))
	}

	errs = append(errs, validateServer(cfg.Server)...)

	for _, name := range sortedKeys(cfg.Buffers) {
		errs = append(errs, validateBuffer(name, cfg.Buffers[name], cfg.Limits)...)
	}
	for _, name := range sortedKeys(cfg.Webhooks) {
		errs = append(errs, validateWebhook(name, cfg.Webhooks[name])...)
	}

	return errs
}

func validateDaemon(d DaemonConfig) []error {
	var errs []error
	if err := logging.ValidateLevel(d.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("daemon.log_level: %w", err))
	}
	if f := strings.ToLower(d.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("daemon.log_format must be json or text, got %q", d.LogFormat))
	}
	if _, err := logging.ParseSize(d.LogfileMaxbytes); err != nil {
		errs = append(errs, fmt.Errorf("daemon.logfile_maxbytes: %w", err))
	}
	if d.LogfileBackups < 0 {
		errs = append(errs, fmt.Errorf("daemon.logfile_backups must be >= 0, got %d", d.LogfileBackups))
	}
	if d.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("daemon.shutdown_timeout must be >= 0, got %d", d.ShutdownTimeout))
	}
	return errs
}

func validateLimits(l LimitsConfig) []error {
	var errs []error
	fields := []struct {
		key string
		val int
	}{
		{"max_name_length", l.MaxNameLength},
		{"max_command_length", l.MaxCommandLength},
		{"max_channels", l.MaxChannels},
		{"max_capacity", l.MaxCapacity},
		{"max_samples", l.MaxSamples},
		{"max_read_samples", l.MaxReadSamples},
	}
	for _, f := range fields {
		if f.val < 1 {
			errs = append(errs, fmt.Errorf("limits.%s must be >= 1, got %d", f.key, f.val))
		}
	}
	return errs
}

func validateServer(s ServerConfig) []error {
	var errs []error
	if mode, err := strconv.ParseUint(s.Unix.Chmod, 8, 32); err != nil || mode > 0o777 {
		errs = append(errs, fmt.Errorf("server.unix.chmod must be an octal mode, got %q", s.Unix.Chmod))
	}

	if s.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(s.HTTP.Listen); err != nil {
			errs = append(errs, fmt.Errorf("server.http.listen %q: %w", s.HTTP.Listen, err))
		}
	}
	if s.HTTP.Username != "" && s.HTTP.Password == "" {
		errs = append(errs, fmt.Errorf("server.http.password is required when username is set"))
	}
	if s.HTTP.Password != "" {
		if _, err := bcrypt.Cost([]byte(s.HTTP.Password)); err != nil {
			errs = append(errs, fmt.Errorf("server.http.password must be a bcrypt hash (see circbuf hash-password)"))
		}
	}
	return errs
}

func validateBuffer(name string, b BufferConfig, l LimitsConfig) []error {
	prefix := fmt.Sprintf("buffers.%s", name)
	var errs []error

	if name == "" {
		errs = append(errs, fmt.Errorf("buffers: empty buffer name"))
	}
	if l.MaxNameLength > 0 && len(name) > l.MaxNameLength {
		errs = append(errs, fmt.Errorf("%s: name is %d bytes, limit %d", prefix, len(name), l.MaxNameLength))
	}
	if b.Channels < 1 {
		errs = append(errs, fmt.Errorf("%s: channels must be >= 1, got %d", prefix, b.Channels))
	} else if l.MaxChannels > 0 && b.Channels > l.MaxChannels {
		errs = append(errs, fmt.Errorf("%s: channels %d exceeds limits.max_channels %d", prefix, b.Channels, l.MaxChannels))
	}
	if b.Capacity < 1 {
		errs = append(errs, fmt.Errorf("%s: capacity must be >= 1, got %d", prefix, b.Capacity))
	} else if l.MaxCapacity > 0 && b.Capacity > l.MaxCapacity {
		errs = append(errs, fmt.Errorf("%s: capacity %d exceeds limits.max_capacity %d", prefix, b.Capacity, l.MaxCapacity))
	}
	if b.Channels > 0 && b.Capacity > 0 && l.MaxSamples > 0 && b.Capacity > l.MaxSamples/b.Channels {
		errs = append(errs, fmt.Errorf("%s: %d x %d samples exceeds limits.max_samples %d",
			prefix, b.Channels, b.Capacity, l.MaxSamples))
	}
	return errs
}

func validateWebhook(name string, wh WebhookConfig) []error {
	prefix := fmt.Sprintf("webhooks.%s", name)
	var errs []error

	switch {
	case wh.URL == "":
		errs = append(errs, fmt.Errorf("%s: url is required", prefix))
	case !strings.Contains(wh.URL, "${"):
		// Env references are checked after expansion.
		if err := events.ValidateWebhookURL(wh.URL, wh.AllowInsecure); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	if len(wh.Events) == 0 {
		errs = append(errs, fmt.Errorf("%s: events must not be empty", prefix))
	}
	for _, e := range wh.Events {
		if !slices.Contains(events.AllTypes, events.EventType(strings.ToUpper(e))) {
			errs = append(errs, fmt.Errorf("%s: unknown event type %q", prefix, e))
		}
	}

	if !validTemplates[wh.Template] {
		errs = append(errs, fmt.Errorf("%s: template must be generic or slack, got %q", prefix, wh.Template))
	}
	if wh.Timeout < 1 {
		errs = append(errs, fmt.Errorf("%s: timeout must be >= 1, got %d", prefix, wh.Timeout))
	}
	if wh.Retries < 0 {
		errs = append(errs, fmt.Errorf("%s: retries must be >= 0, got %d", prefix, wh.Retries))
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
