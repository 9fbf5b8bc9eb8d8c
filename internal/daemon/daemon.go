// Package daemon runs the circbuf server: it owns the buffer registry,
// serves the control API, and handles signals and config reloads.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kahiteam/circbuf/internal/adapter"
	"github.com/kahiteam/circbuf/internal/api"
	"github.com/kahiteam/circbuf/internal/config"
	"github.com/kahiteam/circbuf/internal/events"
	"github.com/kahiteam/circbuf/internal/logging"
	"github.com/kahiteam/circbuf/internal/metrics"
	"github.com/kahiteam/circbuf/internal/registry"
	"github.com/kahiteam/circbuf/internal/version"
)

// uptimeInterval is how often the uptime gauge is refreshed.
const uptimeInterval = 5 * time.Second

// Daemon is the main run loop.
type Daemon struct {
	mu         sync.Mutex
	config     *config.Config
	configPath string
	logger     *slog.Logger
	logOut     *logging.Output
	levelVar   *logging.LevelVar

	bus      *events.Bus
	registry *registry.Registry
	buffers  *adapter.Adapter
	metrics  *metrics.Collector
	webhooks *events.WebhookManager
	detach   func()
	server   *api.Server
	signals  *SignalQueue

	started    time.Time
	ready      atomic.Bool
	shutting   bool
	shutdownCh chan struct{}
	doneCh     chan struct{}
}

// Options configures a daemon.
type Options struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger

	// LogOutput is reopened on SIGUSR2 and closed on exit. May be nil.
	LogOutput *logging.Output
	// LevelVar, if set, follows log_level across reloads.
	LevelVar *logging.LevelVar
}

// New creates a daemon. Nothing is started until Run.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	bus := events.NewBusWithHistory(opts.Logger, cfg.Events.History)
	reg := registry.New(registryLimits(cfg.Limits), bus, opts.Logger)
	bufs := adapter.New(reg, adapter.Options{
		MaxNameLength:    cfg.Limits.MaxNameLength,
		MaxCommandLength: cfg.Limits.MaxCommandLength,
	})

	mc := metrics.New()
	mc.SetBuildInfo(version.Version, goVersion())

	d := &Daemon{
		config:     cfg,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		logOut:     opts.LogOutput,
		levelVar:   opts.LevelVar,
		bus:        bus,
		registry:   reg,
		buffers:    bufs,
		metrics:    mc,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	hooks, err := webhookConfigs(cfg.Webhooks)
	if err != nil {
		return nil, err
	}
	d.detach = mc.Attach(bus)
	d.webhooks = events.NewWebhookManager(bus, hooks, opts.Logger)

	d.server = api.NewServer(api.Config{
		Username: cfg.Server.HTTP.Username,
		Password: cfg.Server.HTTP.Password,
		Metrics:  mc,
	}, bufs, d, d, bus, opts.Logger)
	return d, nil
}

// Buffers returns the command adapter.
func (d *Daemon) Buffers() *adapter.Adapter { return d.buffers }

// Bus returns the event bus.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Server returns the API server.
func (d *Daemon) Server() *api.Server { return d.server }

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run() error {
	defer d.logOut.Close()
	if err := WritePIDFile(d.config.Daemon.PidFile); err != nil {
		return err
	}
	defer RemovePIDFile(d.config.Daemon.PidFile)

	d.started = time.Now()

	for _, name := range sortedNames(d.config.Buffers) {
		d.createPreset(name, d.config.Buffers[name])
	}

	if err := d.startListeners(); err != nil {
		d.closeResources()
		return err
	}

	d.signals = NewSignalQueue(d.logger)
	defer d.signals.Stop()

	d.bus.Publish(events.Event{
		Type: events.DaemonStateRunning,
		Data: map[string]string{"pid": strconv.Itoa(os.Getpid())},
	})
	d.ready.Store(true)
	d.logger.Info("daemon running", "pid", os.Getpid(), "buffers", d.registry.Len())

	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case sig := <-d.signals.C:
			if d.handleSignal(sig) {
				break loop
			}
		case <-d.shutdownCh:
			break loop
		case <-ticker.C:
			d.metrics.SetDaemonUptime(time.Since(d.started).Seconds())
		}
	}

	d.logger.Info("shutting down")
	d.mu.Lock()
	d.shutting = true
	d.mu.Unlock()
	d.ready.Store(false)

	d.bus.Publish(events.Event{
		Type: events.DaemonStateStopping,
		Data: map[string]string{},
	})

	timeout := time.Duration(d.config.Daemon.ShutdownTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.server.Stop(ctx); err != nil {
		d.logger.Warn("shutdown timeout exceeded, closing remaining connections", "error", err)
	}

	d.closeResources()
	close(d.doneCh)
	d.logger.Info("shutdown complete")
	return nil
}

func (d *Daemon) startListeners() error {
	unix := d.config.Server.Unix
	mode, err := strconv.ParseUint(unix.Chmod, 8, 32)
	if err != nil {
		return fmt.Errorf("invalid socket chmod %q: %w", unix.Chmod, err)
	}
	if err := ValidateSocketDir(unix.File); err != nil {
		return err
	}
	if err := d.server.StartUnix(unix.File, os.FileMode(mode)); err != nil {
		return err
	}

	if d.config.Server.HTTP.Enabled {
		if err := d.server.StartTCP(d.config.Server.HTTP.Listen); err != nil {
			_ = d.server.Stop(context.Background())
			return err
		}
	}
	return nil
}

func (d *Daemon) closeResources() {
	d.webhooks.Stop()
	d.detach()
	d.registry.Close()
}

// createPreset creates a configured buffer, logging rather than failing.
func (d *Daemon) createPreset(name string, b config.BufferConfig) {
	info, err := d.buffers.Create(name, b.Channels, b.Capacity, b.Strict)
	if err != nil {
		d.logger.Error("preset buffer failed", "buffer", name, "error", err)
		return
	}
	d.logger.Info("preset buffer created", "buffer", name,
		"channels", info.Channels, "capacity", info.Capacity, "strict", info.Strict)
}

// reload re-reads the config file and applies the preset buffer diff. Limits,
// log level, and webhooks take the new values. Name limits need a restart.
func (d *Daemon) reload() (config.BufferDiff, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shutting {
		return config.BufferDiff{}, errors.New("daemon is shutting down")
	}

	d.logger.Info("reloading config", "path", d.configPath)
	newCfg, warnings, err := config.LoadWithIncludes(d.configPath)
	if err != nil {
		d.metrics.IncConfigReloadError()
		return config.BufferDiff{}, err
	}
	for _, w := range warnings {
		d.logger.Warn("config warning", "warning", w)
	}

	hooks, err := webhookConfigs(newCfg.Webhooks)
	if err != nil {
		d.metrics.IncConfigReloadError()
		return config.BufferDiff{}, err
	}

	if newCfg.Limits.MaxNameLength != d.config.Limits.MaxNameLength ||
		newCfg.Limits.MaxCommandLength != d.config.Limits.MaxCommandLength {
		d.logger.Warn("name length limits change on restart only")
	}

	diff := config.Diff(d.config, newCfg)
	d.logger.Info("config diff", "added", diff.Added, "changed", diff.Changed, "removed", diff.Removed)

	d.registry.SetLimits(registryLimits(newCfg.Limits))
	if d.levelVar != nil {
		d.levelVar.Set(newCfg.Daemon.LogLevel)
	}

	for _, name := range diff.Removed {
		if err := d.registry.Destroy(name); err != nil && !errors.Is(err, registry.ErrNotFound) {
			d.logger.Error("remove preset buffer failed", "buffer", name, "error", err)
		}
	}
	for _, name := range diff.Changed {
		d.createPreset(name, newCfg.Buffers[name])
	}
	for _, name := range diff.Added {
		d.createPreset(name, newCfg.Buffers[name])
	}

	d.webhooks.Stop()
	d.webhooks = events.NewWebhookManager(d.bus, hooks, d.logger)

	d.config = newCfg
	d.metrics.IncConfigReload()
	d.bus.Publish(events.Event{
		Type: events.ConfigReloaded,
		Data: map[string]string{
			"added":   strings.Join(diff.Added, ","),
			"changed": strings.Join(diff.Changed, ","),
			"removed": strings.Join(diff.Removed, ","),
		},
	})
	return diff, nil
}

// Reload re-reads config and applies changes.
func (d *Daemon) Reload() (added, changed, removed []string, err error) {
	diff, err := d.reload()
	if err != nil {
		return nil, nil, nil, err
	}
	return diff.Added, diff.Changed, diff.Removed, nil
}

// GetConfig returns the current config.
func (d *Daemon) GetConfig() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Shutdown triggers a graceful shutdown.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.shutting {
		d.shutting = true
		close(d.shutdownCh)
	}
}

// Done returns a channel that closes when the daemon has finished.
func (d *Daemon) Done() <-chan struct{} { return d.doneCh }

// IsShuttingDown returns true if the daemon is shutting down.
func (d *Daemon) IsShuttingDown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutting
}

// IsReady reports whether preset buffers exist and the listeners are up.
func (d *Daemon) IsReady() bool {
	return d.ready.Load()
}

// Version returns version info.
func (d *Daemon) Version() map[string]string {
	return map[string]string{
		"version":    version.Version,
		"commit":     version.Commit,
		"date":       version.Date,
		"go_version": goVersion(),
		"pid":        strconv.Itoa(os.Getpid()),
	}
}

func goVersion() string {
	if version.GoVersion != "" {
		return version.GoVersion
	}
	return runtime.Version()
}

func registryLimits(l config.LimitsConfig) registry.Limits {
	return registry.Limits{
		MaxChannels: l.MaxChannels,
		MaxCapacity: l.MaxCapacity,
		MaxSamples:  l.MaxSamples,
		MaxRead:     l.MaxReadSamples,
	}
}

// webhookConfigs converts config webhooks, expanding ${VAR} in URLs and
// header values.
func webhookConfigs(hooks map[string]config.WebhookConfig) ([]events.WebhookConfig, error) {
	var out []events.WebhookConfig
	for _, name := range sortedNames(hooks) {
		wh := hooks[name]
		u, err := events.ExpandWebhookEnv(wh.URL)
		if err != nil {
			return nil, fmt.Errorf("webhook %s: url: %w", name, err)
		}
		if err := events.ValidateWebhookURL(u, wh.AllowInsecure); err != nil {
			return nil, fmt.Errorf("webhook %s: %w", name, err)
		}
		headers := make(map[string]string, len(wh.Headers))
		for k, v := range wh.Headers {
			ev, err := events.ExpandWebhookEnv(v)
			if err != nil {
				return nil, fmt.Errorf("webhook %s: header %s: %w", name, k, err)
			}
			headers[k] = ev
		}
		types := make([]events.EventType, len(wh.Events))
		for i, e := range wh.Events {
			types[i] = events.EventType(strings.ToUpper(e))
		}
		out = append(out, events.WebhookConfig{
			Name:          name,
			URL:           u,
			Events:        types,
			Headers:       headers,
			Timeout:       time.Duration(wh.Timeout) * time.Second,
			MaxRetries:    wh.Retries,
			Template:      wh.Template,
			AllowInsecure: wh.AllowInsecure,
		})
	}
	return out, nil
}

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
