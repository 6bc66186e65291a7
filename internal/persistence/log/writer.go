package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

var ErrNotOpen = errors.New("period log not open")

type LoggerOptions struct {
	// OnRecord receives a copy of every line written, without the newline.
	OnRecord func(line []byte)
	// OnRotate is called with the previous file when Begin opens a
	// different one. The previous file is closed by then.
	OnRotate func(prevPath string)
}

// PeriodWriter appends NDJSON records to one period file at a time. The
// file is opened for a pass with Begin and closed with End; records are
// flushed line by line so the file can be tailed while a pass runs.
type PeriodWriter struct {
	opts LoggerOptions

	mu       sync.Mutex
	path     string
	lastPath string
	f        *os.File
	w        *bufio.Writer
	buf      bytes.Buffer
	enc      *json.Encoder
	lines    uint64
}

func NewPeriodWriter(opts LoggerOptions) *PeriodWriter {
	pw := &PeriodWriter{opts: opts}
	pw.enc = json.NewEncoder(&pw.buf)
	pw.enc.SetEscapeHTML(false)
	return pw
}

// Begin opens path in append mode, creating parent directories.
func (w *PeriodWriter) Begin(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f != nil {
		if w.path == path {
			return nil
		}
		_ = w.closeLocked()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	prev := w.lastPath
	w.f = f
	w.w = bufio.NewWriterSize(f, 64*1024)
	w.path = path
	w.lastPath = path
	w.lines = 0
	if prev != "" && prev != path && w.opts.OnRotate != nil {
		w.opts.OnRotate(prev)
	}
	return nil
}

func (w *PeriodWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ErrNotOpen
	}

	w.buf.Reset()
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	line := w.buf.Bytes() // Encode terminates with '\n'
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	w.lines++
	if w.opts.OnRecord != nil {
		out := make([]byte, len(line)-1)
		copy(out, line[:len(line)-1])
		w.opts.OnRecord(out)
	}
	return nil
}

// End flushes and closes the current file. Safe to call when not open.
func (w *PeriodWriter) End() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *PeriodWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Lines reports records written since the last Begin.
func (w *PeriodWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *PeriodWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}
	err1 := w.w.Flush()
	err2 := w.f.Close()
	w.f = nil
	w.w = nil
	w.path = ""
	if err1 != nil {
		return err1
	}
	return err2
}
