// Package logging routes the standard logger to stdout and a size-capped
// file, so a long-lived scrape daemon keeps a local trace without ever
// filling the disk.
package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// DefaultMaxSize caps the log file before rotation kicks in.
const DefaultMaxSize = 5 * 1024 * 1024

// RotatingWriter appends to a file and swaps it out for a fresh one once
// it crosses maxSize. The previous file survives as path.1.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// New opens path for appending, rotating first if it is already over the
// cap so a restart never inherits an oversized file.
func New(path string, maxSize int64) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if info, err := os.Stat(path); err == nil && info.Size() > maxSize {
		os.Rename(path, path+".1")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	return &RotatingWriter{file: f, path: path, size: size, maxSize: maxSize}, nil
}

// Setup wires the standard logger to stdout plus a rotating file and
// switches timestamps to UTC so run logs line up with the ledger.
func Setup(path string) (*RotatingWriter, error) {
	rw, err := New(path, DefaultMaxSize)
	if err != nil {
		return nil, err
	}
	log.SetFlags(log.LstdFlags | log.LUTC)
	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		w.rotate()
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}
	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
