package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// DaemonOptions describes where the daemon logs.
type DaemonOptions struct {
	Level     string
	Format    string
	Logfile   string // empty logs to stdout
	MaxBytes  string // rotation threshold, e.g. "50MB"
	Backups   int
	Syslog    bool
	SyslogTag string

	// LevelVar, if set, is used instead of Level.
	LevelVar *LevelVar
}

// Output is the set of writers behind a daemon logger. Its methods are safe
// on an Output with no file or syslog attached.
type Output struct {
	file   *RotatingFile
	syslog *SyslogForwarder
}

// Reopen reopens the log file, if any.
func (o *Output) Reopen() error {
	if o == nil || o.file == nil {
		return nil
	}
	return o.file.Reopen()
}

// Close releases the log file and syslog connection.
func (o *Output) Close() error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.file != nil {
		errs = append(errs, o.file.Close())
	}
	if o.syslog != nil {
		errs = append(errs, o.syslog.Close())
	}
	return errors.Join(errs...)
}

// DaemonLogger opens the daemon's log destinations and returns a logger
// writing to all of them.
func DaemonLogger(opts DaemonOptions) (*slog.Logger, *Output, error) {
	out := &Output{}
	var writers []io.Writer

	if opts.Logfile != "" {
		maxBytes, err := ParseSize(opts.MaxBytes)
		if err != nil {
			return nil, nil, err
		}
		rf, err := OpenRotating(opts.Logfile, maxBytes, opts.Backups)
		if err != nil {
			return nil, nil, err
		}
		out.file = rf
		writers = append(writers, rf)
	} else {
		writers = append(writers, os.Stdout)
	}

	if opts.Syslog {
		tag := opts.SyslogTag
		if tag == "" {
			tag = "circbuf"
		}
		sf, err := NewSyslogForwarder(tag)
		if err != nil {
			out.Close()
			return nil, nil, err
		}
		out.syslog = sf
		writers = append(writers, sf)
	}

	w := writers[0]
	if len(writers) > 1 {
		w = io.MultiWriter(writers...)
	}

	logger := New(LogConfig{
		Level:    opts.Level,
		Format:   opts.Format,
		Output:   w,
		LevelVar: opts.LevelVar,
	})
	return logger, out, nil
}
