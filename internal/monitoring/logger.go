package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Library packages log through it so tests can mute them.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnings collects advisory messages from validators. Warnings never fail an
// operation; hard problems are returned as errors instead.
type Warnings struct {
	mu   sync.Mutex
	msgs []string
}

// Addf appends a formatted warning.
func (w *Warnings) Addf(format string, v ...interface{}) {
	w.mu.Lock()
	w.msgs = append(w.msgs, fmt.Sprintf(format, v...))
	w.mu.Unlock()
}

// List returns a copy of the collected warnings.
func (w *Warnings) List() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Len returns the number of warnings.
func (w *Warnings) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

// Log writes every warning through Logf with the given prefix.
func (w *Warnings) Log(prefix string) {
	for _, m := range w.List() {
		Logf("%s: warning: %s", prefix, m)
	}
}
