package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// RotatingFile is an append-only log file that rotates by size. Backups are
// named path.1 (newest) through path.N.
type RotatingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64 // 0 means unlimited
	backups  int
	file     *os.File
	size     int64
}

// OpenRotating opens path for appending.
func OpenRotating(path string, maxBytes int64, backups int) (*RotatingFile, error) {
	rf := &RotatingFile{path: path, maxBytes: maxBytes, backups: backups}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("cannot open log file: %s: %w", rf.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("cannot stat log file: %s: %w", rf.path, err)
	}
	rf.file = f
	rf.size = info.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past its limit.
// A single write is never split across files.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.maxBytes > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.maxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return err
	}
	rf.file = nil
	if err := rotateFile(rf.path, rf.backups); err != nil {
		return fmt.Errorf("rotate %s: %w", rf.path, err)
	}
	return rf.open()
}

// Reopen closes and reopens the file, picking up a file moved away by an
// external rotator.
func (rf *RotatingFile) Reopen() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file != nil {
		rf.file.Close()
		rf.file = nil
	}
	return rf.open()
}

// Size returns the current file size.
func (rf *RotatingFile) Size() int64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.size
}

// Close closes the file. Later writes fail.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

func rotateFile(path string, backups int) error {
	if backups == 0 {
		return os.Truncate(path, 0)
	}

	// Rotate: .N-1 -> .N, ... , .1 -> .2, file -> .1
	os.Remove(fmt.Sprintf("%s.%d", path, backups))

	// Missing intermediates are expected.
	for i := backups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", path, i)
		dst := fmt.Sprintf("%s.%d", path, i+1)
		_ = os.Rename(src, dst)
	}

	return os.Rename(path, path+".1")
}

// ParseSize parses a human-readable size such as "50MB" into bytes.
// Supports B, KB, MB, GB suffixes; a bare number is bytes. "" and "0" mean
// unlimited and return 0.
func ParseSize(s string) (int64, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "0" {
		return 0, nil
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid size %q", orig)
	}
	return val * multiplier, nil
}
