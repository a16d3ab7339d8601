// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Log writer. Writes to the given output, and optionally to a file.
// Does not add prefixes, or force newlines. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	file   *bufio.Writer
	fileOS *os.File
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Enables logging to file, closing any previous log file
func (w *Writer) AlsoToFile(fileName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.closeFile(); err != nil {
		return err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	w.fileOS, w.file = f, bufio.NewWriter(f)
	return nil
}

func (w *Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err = w.out.Write(p)
	if err != nil || w.file == nil {
		return n, err
	}
	return w.file.Write(p)
}

// Flushes and syncs the log file, if any
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Flush(); err != nil {
		return err
	}
	return w.fileOS.Sync()
}

// Flushes and closes the log file, if any
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

func (w *Writer) closeFile() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Flush()
	if cerr := w.fileOS.Close(); err == nil {
		err = cerr
	}
	w.file, w.fileOS = nil, nil
	return err
}

// A logger which prefixes every line with the component emitting it
type Logger struct {
	w         io.Writer
	Verbosity int // 0 for progress only, up to 3 for full diagnostics
}

func NewLogger(w io.Writer, verbosity int) *Logger {
	return &Logger{w: w, Verbosity: verbosity}
}

// Returns a logger which discards everything
func Discard() *Logger {
	return &Logger{w: io.Discard}
}

// Passes raw output through, for progress lines without a component
func (l *Logger) Write(p []byte) (int, error) {
	return l.w.Write(p)
}

// Logs a line tagged with the component
func (l *Logger) Printf(component, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	fmt.Fprintf(l.w, "%s: %s", component, msg)
}

// Logs a line tagged with the component if the verbosity is at least level
func (l *Logger) Debugf(level int, component, format string, args ...interface{}) {
	if l.Verbosity >= level {
		l.Printf(component, format, args...)
	}
}
