// Package logger caps session log files to their most recent lines.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogRotator is a file writer that keeps at most maxLines lines on disk.
// Once twice that many lines have been written since the last trim, the
// file is rewritten with only the newest maxLines lines.
type LogRotator struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	buffer   *RingBuffer
	maxLines int
	written  int
}

// NewLogRotator opens (or creates) the log file at path. A non-positive
// maxLines disables trimming.
func NewLogRotator(path string, maxLines int) (*LogRotator, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}

	return &LogRotator{
		file:     file,
		path:     path,
		buffer:   NewRingBuffer(max(maxLines, 0)),
		maxLines: maxLines,
	}, nil
}

// Write implements io.Writer.
func (w *LogRotator) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil || w.maxLines <= 0 {
		return n, err
	}

	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.buffer.Add(line)
		w.written++
	}

	if w.written >= w.maxLines*2 {
		if err := w.trim(); err != nil {
			return n, fmt.Errorf("failed to trim log file: %w", err)
		}
		w.written = w.buffer.Len()
	}

	return n, nil
}

// Sync flushes the file to disk.
func (w *LogRotator) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *LogRotator) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// trim replaces the file with the buffered lines.
func (w *LogRotator) trim() error {
	temp, err := os.CreateTemp(filepath.Dir(w.path), "trim-log-")
	if err != nil {
		return err
	}
	tempPath := temp.Name()

	content := strings.Join(w.buffer.Lines(), "\n") + "\n"
	if _, err := temp.WriteString(content); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return err
	}

	_ = w.file.Close()
	// Windows refuses to rename over an existing file
	_ = os.Remove(w.path)

	if err := os.Rename(tempPath, w.path); err != nil {
		return err
	}

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = file

	return nil
}
