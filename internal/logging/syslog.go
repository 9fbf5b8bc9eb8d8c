package logging

import (
	"bytes"
	"fmt"
	"log/syslog"
)

// SyslogForwarder copies daemon log lines to the local syslog.
type SyslogForwarder struct {
	writer *syslog.Writer
}

// NewSyslogForwarder connects to syslog under tag.
func NewSyslogForwarder(tag string) (*SyslogForwarder, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to syslog: %w", err)
	}
	return &SyslogForwarder{writer: w}, nil
}

// Write sends one log line to syslog.
func (sf *SyslogForwarder) Write(p []byte) (int, error) {
	if err := sf.writer.Info(string(bytes.TrimRight(p, "\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the syslog connection.
func (sf *SyslogForwarder) Close() error {
	return sf.writer.Close()
}
