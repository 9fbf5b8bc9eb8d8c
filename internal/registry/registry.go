// Package registry owns the named ring buffers of a circbuf daemon and
// serializes access to each of them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kahiteam/circbuf/internal/events"
	"github.com/kahiteam/circbuf/internal/ring"
)

// ErrNotFound reports an unknown buffer name.
var ErrNotFound = errors.New("no such buffer")

// Limits bounds the buffers a registry will allocate. Zero fields are
// unlimited.
type Limits struct {
	MaxChannels int
	MaxCapacity int
	MaxSamples  int // channels*capacity for a single buffer
	MaxRead     int // samples returned by a single read, all channels
}

// Options configures a single buffer.
type Options struct {
	Strict bool
}

// BufferInfo describes a registered buffer.
type BufferInfo struct {
	Name           string    `json:"name"`
	Channels       int       `json:"channels"`
	Capacity       int       `json:"capacity"`
	Length         int       `json:"length"`
	Full           bool      `json:"full"`
	Strict         bool      `json:"strict"`
	Head           int       `json:"head"`
	Tail           int       `json:"tail"`
	SamplesWritten uint64    `json:"samples_written"`
	CreatedAt      time.Time `json:"created_at"`
}

type entry struct {
	mu      sync.RWMutex
	buf     *ring.Buffer
	created time.Time
	written uint64
	dead    bool
}

// Registry maps names to ring buffers. It is safe for concurrent use: a
// buffer sees one writer or any number of readers at a time.
type Registry struct {
	mu      sync.RWMutex
	buffers map[string]*entry
	limits  Limits
	bus     *events.Bus
	logger  *slog.Logger
}

// New creates an empty registry. bus may be nil.
func New(limits Limits, bus *events.Bus, logger *slog.Logger) *Registry {
	return &Registry{
		buffers: make(map[string]*entry),
		limits:  limits,
		bus:     bus,
		logger:  logger,
	}
}

// SetLimits replaces the allocation limits for future creates.
func (r *Registry) SetLimits(l Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = l
}

func (r *Registry) checkLimits(channels, capacity int) error {
	l := r.limits
	if l.MaxChannels > 0 && channels > l.MaxChannels {
		return fmt.Errorf("create: %d channels exceeds limit %d: %w", channels, l.MaxChannels, ring.ErrInvalidArgument)
	}
	if l.MaxCapacity > 0 && capacity > l.MaxCapacity {
		return fmt.Errorf("create: capacity %d exceeds limit %d: %w", capacity, l.MaxCapacity, ring.ErrInvalidArgument)
	}
	if l.MaxSamples > 0 && channels > 0 && capacity > l.MaxSamples/channels {
		return fmt.Errorf("create: %d x %d samples exceeds limit %d: %w",
			channels, capacity, l.MaxSamples, ring.ErrInvalidArgument)
	}
	return nil
}

func (r *Registry) checkRead(op string, numSamples, channels int) error {
	r.mu.RLock()
	limit := r.limits.MaxRead
	r.mu.RUnlock()
	if numSamples < 0 || limit <= 0 || channels <= 0 {
		return nil
	}
	if numSamples > limit/channels {
		return fmt.Errorf("%s: %d x %d samples exceeds read limit %d: %w",
			op, numSamples, channels, limit, ring.ErrInvalidArgument)
	}
	return nil
}

// Create allocates a buffer under name, replacing any buffer already
// registered there.
func (r *Registry) Create(name string, channels, capacity int, opts Options) (BufferInfo, error) {
	if name == "" {
		return BufferInfo{}, fmt.Errorf("create: empty buffer name: %w", ring.ErrInvalidArgument)
	}

	r.mu.Lock()
	if err := r.checkLimits(channels, capacity); err != nil {
		r.mu.Unlock()
		return BufferInfo{}, err
	}
	var ropts []ring.Option
	if opts.Strict {
		ropts = append(ropts, ring.Strict())
	}
	buf, err := ring.New(channels, capacity, ropts...)
	if err != nil {
		r.mu.Unlock()
		return BufferInfo{}, err
	}

	e := &entry{buf: buf, created: time.Now()}
	created := info(name, e)
	old, replaced := r.buffers[name]
	r.buffers[name] = e
	r.mu.Unlock()

	if replaced {
		old.mu.Lock()
		old.dead = true
		old.buf = nil
		old.mu.Unlock()
		r.logger.Warn("buffer replaced", "name", name, "channels", channels, "capacity", capacity)
	} else {
		r.logger.Info("buffer created", "name", name, "channels", channels, "capacity", capacity)
	}

	evType := events.BufferCreated
	if replaced {
		evType = events.BufferReplaced
	}
	r.publish(evType, map[string]string{
		"name":     name,
		"channels": strconv.Itoa(channels),
		"capacity": strconv.Itoa(capacity),
		"strict":   strconv.FormatBool(opts.Strict),
	})

	return created, nil
}

// Destroy releases the named buffer. Later operations on the name fail with
// ErrNotFound until it is created again.
func (r *Registry) Destroy(name string) error {
	r.mu.Lock()
	e, ok := r.buffers[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("destroy: %s: %w", name, ErrNotFound)
	}
	delete(r.buffers, name)
	r.mu.Unlock()

	// Wait for in-flight reads and writes before releasing storage.
	e.mu.Lock()
	e.dead = true
	e.buf = nil
	e.mu.Unlock()

	r.logger.Info("buffer destroyed", "name", name)
	r.publish(events.BufferDestroyed, map[string]string{"name": name})
	return nil
}

func (r *Registry) lookup(op, name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.buffers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, name, ErrNotFound)
	}
	return e, nil
}

// Write appends interleaved samples to the named buffer.
func (r *Registry) Write(name string, samples []float32, sampleCount int) error {
	e, err := r.lookup("write", name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return fmt.Errorf("write: %s: %w", name, ErrNotFound)
	}
	wasFull := e.buf.Full()
	if err := e.buf.Write(samples, sampleCount); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%s: %w", name, err)
	}
	e.written += uint64(sampleCount)
	nowFull := e.buf.Full()
	length, capacity := e.buf.Len(), e.buf.Capacity()
	e.mu.Unlock()

	r.publish(events.BufferWritten, map[string]string{
		"name":     name,
		"samples":  strconv.Itoa(sampleCount),
		"length":   strconv.Itoa(length),
		"capacity": strconv.Itoa(capacity),
	})
	if nowFull && !wasFull {
		r.publish(events.BufferFull, map[string]string{
			"name":     name,
			"capacity": strconv.Itoa(capacity),
		})
	}
	return nil
}

// ReadRange returns numSamples samples of one channel, counted from
// startOffset past the oldest retained sample.
func (r *Registry) ReadRange(name string, numSamples, channel, startOffset int) ([]float32, error) {
	var out []float32
	err := r.withReader("read range", name, func(b *ring.Buffer) error {
		if err := r.checkRead("read range", numSamples, 1); err != nil {
			return err
		}
		var err error
		out, err = b.Range(numSamples, channel, startOffset)
		return err
	})
	return out, err
}

// ReadMostRecent returns the newest numSamples samples of every channel,
// row-major.
func (r *Registry) ReadMostRecent(name string, numSamples int) ([]float32, int, error) {
	var (
		out      []float32
		channels int
	)
	err := r.withReader("read most recent", name, func(b *ring.Buffer) error {
		channels = b.Channels()
		if err := r.checkRead("read most recent", numSamples, channels); err != nil {
			return err
		}
		var err error
		out, err = b.MostRecent(numSamples)
		return err
	})
	return out, channels, err
}

func (r *Registry) withReader(op, name string, fn func(*ring.Buffer) error) error {
	e, err := r.lookup(op, name)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dead {
		return fmt.Errorf("%s: %s: %w", op, name, ErrNotFound)
	}
	if err := fn(e.buf); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Reset rewinds the named buffer to empty.
func (r *Registry) Reset(name string) error {
	e, err := r.lookup("reset", name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return fmt.Errorf("reset: %s: %w", name, ErrNotFound)
	}
	e.buf.Reset()
	e.mu.Unlock()

	r.publish(events.BufferReset, map[string]string{"name": name})
	return nil
}

// Channels returns the channel count of the named buffer.
func (r *Registry) Channels(name string) (int, error) {
	var n int
	err := r.withReader("lookup", name, func(b *ring.Buffer) error {
		n = b.Channels()
		return nil
	})
	return n, err
}

// Info describes the named buffer.
func (r *Registry) Info(name string) (BufferInfo, error) {
	e, err := r.lookup("info", name)
	if err != nil {
		return BufferInfo{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dead {
		return BufferInfo{}, fmt.Errorf("info: %s: %w", name, ErrNotFound)
	}
	return info(name, e), nil
}

// List describes every buffer, sorted by name.
func (r *Registry) List() []BufferInfo {
	r.mu.RLock()
	names := make([]string, 0, len(r.buffers))
	entries := make(map[string]*entry, len(r.buffers))
	for name, e := range r.buffers {
		names = append(names, name)
		entries[name] = e
	}
	r.mu.RUnlock()

	sort.Strings(names)
	out := make([]BufferInfo, 0, len(names))
	for _, name := range names {
		e := entries[name]
		e.mu.RLock()
		if !e.dead {
			out = append(out, info(name, e))
		}
		e.mu.RUnlock()
	}
	return out
}

// Names returns the registered buffer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.buffers))
	for name := range r.buffers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered buffers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buffers)
}

// Close destroys every buffer.
func (r *Registry) Close() {
	for _, name := range r.Names() {
		_ = r.Destroy(name)
	}
}

func (r *Registry) publish(t events.EventType, data map[string]string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{Type: t, Data: data})
}

// info must be called with e.mu held or before e is published.
func info(name string, e *entry) BufferInfo {
	head, tail := e.buf.Cursors()
	return BufferInfo{
		Name:           name,
		Channels:       e.buf.Channels(),
		Capacity:       e.buf.Capacity(),
		Length:         e.buf.Len(),
		Full:           e.buf.Full(),
		Strict:         e.buf.IsStrict(),
		Head:           head,
		Tail:           tail,
		SamplesWritten: e.written,
		CreatedAt:      e.created,
	}
}
