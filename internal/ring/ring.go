// Package ring implements a fixed-capacity, multi-channel circular buffer
// for streaming sample data.
//
// A Buffer is not safe for concurrent use. Callers serialize access; the
// registry package does this per named instance.
package ring

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidArgument reports bad construction parameters or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrShapeMismatch reports interleaved input whose length does not match
	// sampleCount*channels. It wraps ErrInvalidArgument.
	ErrShapeMismatch = fmt.Errorf("%w: shape mismatch", ErrInvalidArgument)
	// ErrInvalidChannel reports a channel index outside [0, channels).
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrCapacityExceeded reports a most-recent request larger than capacity.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrOutOfRange reports a read past the retained samples on a strict buffer.
	ErrOutOfRange = errors.New("read out of range")
)

// Option configures a Buffer at construction.
type Option func(*Buffer)

// Strict makes reads that reach past the retained samples fail with
// ErrOutOfRange instead of returning stale slots.
func Strict() Option {
	return func(b *Buffer) { b.strict = true }
}

// Buffer is a circular buffer of float32 samples across a fixed number of
// time-aligned channels.
type Buffer struct {
	data     [][]float32
	channels int
	capacity int
	head     int // next slot to write
	tail     int // oldest retained slot
	full     bool
	strict   bool
}

// New creates a zeroed buffer holding capacity samples for each channel.
func New(channels, capacity int, opts ...Option) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("create: channels must be positive, got %d: %w", channels, ErrInvalidArgument)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("create: capacity must be positive, got %d: %w", capacity, ErrInvalidArgument)
	}
	if channels > math.MaxInt/capacity {
		return nil, fmt.Errorf("create: %d channels x %d samples overflows: %w", channels, capacity, ErrInvalidArgument)
	}

	b := &Buffer{
		data:     make([][]float32, channels),
		channels: channels,
		capacity: capacity,
	}
	// One backing array keeps the channels contiguous in memory.
	backing := make([]float32, channels*capacity)
	for ch := range b.data {
		b.data[ch] = backing[ch*capacity : (ch+1)*capacity : (ch+1)*capacity]
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Channels returns the number of channels.
func (b *Buffer) Channels() int { return b.channels }

// Capacity returns the number of samples retained per channel.
func (b *Buffer) Capacity() int { return b.capacity }

// IsStrict reports whether out-of-window reads are rejected.
func (b *Buffer) IsStrict() bool { return b.strict }

// Full reports whether capacity samples have been written at least once.
func (b *Buffer) Full() bool { return b.full }

// Len returns the number of valid samples per channel.
func (b *Buffer) Len() int {
	if b.full {
		return b.capacity
	}
	return b.head
}

// Cursors returns the write (head) and read (tail) slot indices.
func (b *Buffer) Cursors() (head, tail int) { return b.head, b.tail }

// Write appends sampleCount time steps of channel-interleaved samples:
// [s0c0, s0c1, ..., s1c0, ...]. Once full, each step evicts the oldest one.
func (b *Buffer) Write(samples []float32, sampleCount int) error {
	if sampleCount < 0 {
		return fmt.Errorf("write: negative sample count %d: %w", sampleCount, ErrInvalidArgument)
	}
	if sampleCount > math.MaxInt/b.channels || len(samples) != sampleCount*b.channels {
		return fmt.Errorf("write: %d values for %d samples x %d channels: %w",
			len(samples), sampleCount, b.channels, ErrShapeMismatch)
	}

	for i := 0; i < sampleCount; i++ {
		frame := samples[i*b.channels : (i+1)*b.channels]
		for ch, v := range frame {
			b.data[ch][b.head] = v
		}
		b.head = (b.head + 1) % b.capacity
		if b.full {
			b.tail = (b.tail + 1) % b.capacity
		}
		if b.head == b.tail {
			b.full = true
		}
	}
	return nil
}

// ReadRange fills dst from one channel, starting startOffset samples after
// the oldest retained sample. Reads past the retained samples return whatever
// the slots hold unless the buffer is strict.
func (b *Buffer) ReadRange(dst []float32, channel, startOffset int) error {
	if channel < 0 || channel >= b.channels {
		return fmt.Errorf("read range: channel %d not in [0, %d): %w", channel, b.channels, ErrInvalidChannel)
	}
	if startOffset < 0 {
		return fmt.Errorf("read range: negative start offset %d: %w", startOffset, ErrInvalidArgument)
	}
	if b.strict && (startOffset > b.Len() || len(dst) > b.Len()-startOffset) {
		return fmt.Errorf("read range: %d samples from offset %d with %d retained: %w",
			len(dst), startOffset, b.Len(), ErrOutOfRange)
	}

	src := b.data[channel]
	pos := (b.tail + startOffset%b.capacity) % b.capacity
	for i := range dst {
		dst[i] = src[pos]
		pos++
		if pos == b.capacity {
			pos = 0
		}
	}
	return nil
}

// Range is ReadRange into a newly allocated slice of numSamples.
func (b *Buffer) Range(numSamples, channel, startOffset int) ([]float32, error) {
	if numSamples < 0 {
		return nil, fmt.Errorf("read range: negative sample count %d: %w", numSamples, ErrInvalidArgument)
	}
	if channel < 0 || channel >= b.channels {
		return nil, fmt.Errorf("read range: channel %d not in [0, %d): %w", channel, b.channels, ErrInvalidChannel)
	}
	dst := make([]float32, numSamples)
	if err := b.ReadRange(dst, channel, startOffset); err != nil {
		return nil, err
	}
	return dst, nil
}

// ReadMostRecent copies the numSamples most recently written samples of every
// channel into dst, oldest first. dst is row-major: channel 0's run, then
// channel 1's, and so on; it must hold channels*numSamples values.
func (b *Buffer) ReadMostRecent(dst []float32, numSamples int) error {
	if numSamples < 0 {
		return fmt.Errorf("read most recent: negative sample count %d: %w", numSamples, ErrInvalidArgument)
	}
	if numSamples > b.capacity {
		return fmt.Errorf("read most recent: %d samples requested, capacity %d: %w",
			numSamples, b.capacity, ErrCapacityExceeded)
	}
	if len(dst) != numSamples*b.channels {
		return fmt.Errorf("read most recent: destination holds %d values, need %d: %w",
			len(dst), numSamples*b.channels, ErrShapeMismatch)
	}
	if b.strict && numSamples > b.Len() {
		return fmt.Errorf("read most recent: %d samples requested, %d retained: %w",
			numSamples, b.Len(), ErrOutOfRange)
	}
	if numSamples == 0 {
		return nil
	}

	start := (b.head + b.capacity - numSamples) % b.capacity
	end := b.head - 1
	if b.head == 0 {
		end = b.capacity - 1
	}

	first := numSamples
	if end < start {
		first = b.capacity - start
	}
	second := numSamples - first

	for ch, src := range b.data {
		out := dst[ch*numSamples : (ch+1)*numSamples]
		copy(out[:first], src[start:start+first])
		if second > 0 {
			copy(out[first:], src[:second])
		}
	}
	return nil
}

// MostRecent is ReadMostRecent into a newly allocated slice.
func (b *Buffer) MostRecent(numSamples int) ([]float32, error) {
	if numSamples < 0 || numSamples > b.capacity {
		// Let ReadMostRecent produce the error before allocating.
		return nil, b.ReadMostRecent(nil, numSamples)
	}
	dst := make([]float32, numSamples*b.channels)
	if err := b.ReadMostRecent(dst, numSamples); err != nil {
		return nil, err
	}
	return dst, nil
}

// Reset rewinds the cursors and clears the full flag. Slot contents are kept.
func (b *Buffer) Reset() {
	b.head = 0
	b.tail = 0
	b.full = false
}
