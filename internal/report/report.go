// Package report emits single-line relay status reports ("Cooler:On") for
// external monitoring, typically over a serial link.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Reporter receives a relay name and its state ("On" or "Off").
type Reporter interface {
	Report(name, state string)
}

// Func adapts a function to Reporter.
type Func func(name, state string)

// Report calls f.
func (f Func) Report(name, state string) { f(name, state) }

// Line writes "name:state\n" to a writer. Safe for concurrent use.
type Line struct {
	mu  sync.Mutex
	w   io.Writer
	log logrus.FieldLogger
}

// NewLine creates a Line reporter. Write errors are logged to log, if set.
func NewLine(w io.Writer, log logrus.FieldLogger) *Line {
	return &Line{w: w, log: log}
}

// Report writes one status line.
func (l *Line) Report(name, state string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.w, "%s:%s\n", name, state); err != nil && l.log != nil {
		l.log.WithError(err).Warn("status line write failed")
	}
}

// SerialConfig configures the serial status link.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// DefaultBaud matches the Arduino serial monitor default.
const DefaultBaud = 9600

// OpenSerial opens the serial port described by cfg.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	return port, nil
}

// Multi fans a report out to several reporters in order.
type Multi struct {
	reporters []Reporter
}

// NewMulti creates a Multi. Nil reporters are skipped.
func NewMulti(reporters ...Reporter) *Multi {
	m := &Multi{}
	for _, r := range reporters {
		if r != nil {
			m.reporters = append(m.reporters, r)
		}
	}
	return m
}

// Report implements Reporter.
func (m *Multi) Report(name, state string) {
	for _, r := range m.reporters {
		r.Report(name, state)
	}
}

// Len returns the number of reporters.
func (m *Multi) Len() int { return len(m.reporters) }

// Entry is one recorded report.
type Entry struct {
	Name  string
	State string
}

// Recorder is a test double that records reports. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Report records the entry.
func (r *Recorder) Report(name, state string) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Name: name, State: state})
	r.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Reset clears recorded entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}
