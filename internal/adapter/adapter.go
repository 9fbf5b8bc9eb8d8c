// Package adapter is the named-command boundary in front of the buffer
// registry. It validates caller arguments, shapes sample arrays, and
// dispatches create, clear/destroy, add, get, and getMostRecent.
package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/kahiteam/circbuf/internal/registry"
	"github.com/kahiteam/circbuf/internal/ring"
)

// Default name limits: a 128-byte name and a 64-byte command, each less a
// NUL terminator.
const (
	DefaultMaxNameLength    = 127
	DefaultMaxCommandLength = 63
)

// ErrUnknownCommand reports a command name the adapter does not dispatch.
var ErrUnknownCommand = fmt.Errorf("%w: unknown command", ring.ErrInvalidArgument)

// Command names accepted by Exec.
const (
	CmdCreate        = "create"
	CmdClear         = "clear"
	CmdDestroy       = "destroy"
	CmdAdd           = "add"
	CmdGet           = "get"
	CmdGetMostRecent = "getMostRecent"
)

// Options configures an Adapter. Zero fields take the defaults.
type Options struct {
	MaxNameLength    int
	MaxCommandLength int
}

// Matrix is a channels x samples block of samples in row-major order: all of
// channel 0, then all of channel 1, and so on.
type Matrix struct {
	Channels int       `json:"channels"`
	Samples  int       `json:"samples"`
	Data     []float32 `json:"data"`
}

// Row returns the samples of one channel.
func (m Matrix) Row(ch int) []float32 {
	return m.Data[ch*m.Samples : (ch+1)*m.Samples]
}

// Adapter validates and dispatches commands against a registry.
type Adapter struct {
	reg  *registry.Registry
	opts Options
}

// New creates an adapter over reg.
func New(reg *registry.Registry, opts Options) *Adapter {
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = DefaultMaxNameLength
	}
	if opts.MaxCommandLength <= 0 {
		opts.MaxCommandLength = DefaultMaxCommandLength
	}
	return &Adapter{reg: reg, opts: opts}
}

// Registry returns the underlying registry.
func (a *Adapter) Registry() *registry.Registry { return a.reg }

func (a *Adapter) checkName(cmd, name string) error {
	if name == "" {
		return fmt.Errorf("%s: buffer name is empty: %w", cmd, ring.ErrInvalidArgument)
	}
	if len(name) > a.opts.MaxNameLength {
		return fmt.Errorf("%s: buffer name is %d bytes, limit %d: %w",
			cmd, len(name), a.opts.MaxNameLength, ring.ErrInvalidArgument)
	}
	return nil
}

// Create registers a new buffer, replacing any buffer of the same name.
func (a *Adapter) Create(name string, channels, capacity int, strict bool) (registry.BufferInfo, error) {
	if err := a.checkName(CmdCreate, name); err != nil {
		return registry.BufferInfo{}, err
	}
	return a.reg.Create(name, channels, capacity, registry.Options{Strict: strict})
}

// Clear destroys the named buffer.
func (a *Adapter) Clear(name string) error {
	if err := a.checkName(CmdClear, name); err != nil {
		return err
	}
	return a.reg.Destroy(name)
}

// Add appends channel-interleaved samples. len(data) must be a multiple of
// the buffer's channel count.
func (a *Adapter) Add(name string, data []float32) error {
	if err := a.checkName(CmdAdd, name); err != nil {
		return err
	}
	channels, err := a.reg.Channels(name)
	if err != nil {
		return err
	}
	if len(data)%channels != 0 {
		return fmt.Errorf("add: %d values is not a multiple of %d channels: %w",
			len(data), channels, ring.ErrShapeMismatch)
	}
	if len(data) == 0 {
		return nil
	}
	return a.reg.Write(name, data, len(data)/channels)
}

// Get returns numSamples samples of one channel starting at start, counted
// from the oldest retained sample.
func (a *Adapter) Get(name string, numSamples, channel, start int) ([]float32, error) {
	if err := a.checkName(CmdGet, name); err != nil {
		return nil, err
	}
	return a.reg.ReadRange(name, numSamples, channel, start)
}

// GetMostRecent returns the newest numSamples samples of every channel.
func (a *Adapter) GetMostRecent(name string, numSamples int) (Matrix, error) {
	if err := a.checkName(CmdGetMostRecent, name); err != nil {
		return Matrix{}, err
	}
	data, channels, err := a.reg.ReadMostRecent(name, numSamples)
	if err != nil {
		return Matrix{}, err
	}
	return Matrix{Channels: channels, Samples: numSamples, Data: data}, nil
}

// Reset empties the named buffer without releasing it.
func (a *Adapter) Reset(name string) error {
	if err := a.checkName("reset", name); err != nil {
		return err
	}
	return a.reg.Reset(name)
}

// Info describes the named buffer.
func (a *Adapter) Info(name string) (registry.BufferInfo, error) {
	if err := a.checkName("info", name); err != nil {
		return registry.BufferInfo{}, err
	}
	return a.reg.Info(name)
}

// List describes every buffer, sorted by name.
func (a *Adapter) List() []registry.BufferInfo {
	return a.reg.List()
}

// Exec runs a command with loosely typed arguments, as decoded from JSON.
// The first argument is always the buffer name. Results are nil for
// create/clear/add, []float32 for get, and Matrix for getMostRecent.
func (a *Adapter) Exec(command string, args []any) (any, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty: %w", ring.ErrInvalidArgument)
	}
	if len(command) > a.opts.MaxCommandLength {
		return nil, fmt.Errorf("command is %d bytes, limit %d: %w",
			len(command), a.opts.MaxCommandLength, ring.ErrInvalidArgument)
	}

	switch command {
	case CmdCreate:
		if err := arity(command, args, 3, "buffer name, number of channels, and buffer size"); err != nil {
			return nil, err
		}
		name, err := stringArg(command, args, 0, "buffer name")
		if err != nil {
			return nil, err
		}
		channels, err := scalarArg(command, args, 1, "number of channels")
		if err != nil {
			return nil, err
		}
		capacity, err := scalarArg(command, args, 2, "buffer size")
		if err != nil {
			return nil, err
		}
		_, err = a.Create(name, channels, capacity, false)
		return nil, err

	case CmdClear, CmdDestroy:
		if err := arity(command, args, 1, "buffer name"); err != nil {
			return nil, err
		}
		name, err := stringArg(command, args, 0, "buffer name")
		if err != nil {
			return nil, err
		}
		return nil, a.Clear(name)

	case CmdAdd:
		if err := arity(command, args, 2, "buffer name and data array"); err != nil {
			return nil, err
		}
		name, err := stringArg(command, args, 0, "buffer name")
		if err != nil {
			return nil, err
		}
		data, err := samplesArg(command, args, 1, "data")
		if err != nil {
			return nil, err
		}
		return nil, a.Add(name, data)

	case CmdGet:
		if err := arity(command, args, 4, "buffer name, number of samples, channel index, and start sample"); err != nil {
			return nil, err
		}
		name, err := stringArg(command, args, 0, "buffer name")
		if err != nil {
			return nil, err
		}
		n, err := scalarArg(command, args, 1, "number of samples")
		if err != nil {
			return nil, err
		}
		ch, err := scalarArg(command, args, 2, "channel index")
		if err != nil {
			return nil, err
		}
		start, err := scalarArg(command, args, 3, "start sample")
		if err != nil {
			return nil, err
		}
		return a.Get(name, n, ch, start)

	case CmdGetMostRecent:
		if err := arity(command, args, 2, "buffer name and number of samples"); err != nil {
			return nil, err
		}
		name, err := stringArg(command, args, 0, "buffer name")
		if err != nil {
			return nil, err
		}
		n, err := scalarArg(command, args, 1, "number of samples")
		if err != nil {
			return nil, err
		}
		return a.GetMostRecent(name, n)

	default:
		return nil, fmt.Errorf("%q: %w", command, ErrUnknownCommand)
	}
}

func arity(cmd string, args []any, want int, what string) error {
	if len(args) != want {
		return fmt.Errorf("%s: %d arguments required (%s), got %d: %w",
			cmd, want, what, len(args), ring.ErrInvalidArgument)
	}
	return nil
}

func argError(cmd string, idx int, what, msg string) error {
	return fmt.Errorf("%s: argument %d (%s) %s: %w", cmd, idx+1, what, msg, ring.ErrInvalidArgument)
}

func stringArg(cmd string, args []any, idx int, what string) (string, error) {
	s, ok := args[idx].(string)
	if !ok {
		return "", argError(cmd, idx, what, "must be a string")
	}
	return s, nil
}

func scalarArg(cmd string, args []any, idx int, what string) (int, error) {
	f, ok := toFloat(args[idx])
	if !ok {
		return 0, argError(cmd, idx, what, "must be a scalar")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, argError(cmd, idx, what, fmt.Sprintf("must be a non-negative integer, got %v", f))
	}
	return int(f), nil
}

func samplesArg(cmd string, args []any, idx int, what string) ([]float32, error) {
	switch v := args[idx].(type) {
	case []float32:
		for i, f := range v {
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				return nil, argError(cmd, idx, what, fmt.Sprintf("element %d is not finite", i))
			}
		}
		return v, nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			s, err := sampleValue(cmd, idx, what, i, f)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]float32, len(v))
		for i, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return nil, argError(cmd, idx, what, fmt.Sprintf("element %d is not a number", i))
			}
			s, err := sampleValue(cmd, idx, what, i, f)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, argError(cmd, idx, what, "must be an array of numbers")
	}
}

// sampleValue narrows f to a sample. Stored samples must stay finite so
// reads can be encoded as JSON.
func sampleValue(cmd string, idx int, what string, elem int, f float64) (float32, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, argError(cmd, idx, what, fmt.Sprintf("element %d is not finite", elem))
	}
	if math.Abs(f) > math.MaxFloat32 {
		return 0, argError(cmd, idx, what, fmt.Sprintf("element %d overflows single precision", elem))
	}
	return float32(f), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// IsUnknownCommand reports whether err came from an unrecognized command.
func IsUnknownCommand(err error) bool {
	return errors.Is(err, ErrUnknownCommand)
}
