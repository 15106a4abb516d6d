package log

import (
	"fmt"
	"sync"

	"github.com/GeorgeRitchie/bookstore-orders/log"
)

// NewTestLogger records entries instead of printing, for assertions in tests
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

type TestLogger struct {
	mu      sync.Mutex
	entries []Entry
	level   log.Level
}

type Entry struct {
	Msg   string
	Level log.Level
}

func (n *TestLogger) Log(level log.Level, v ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.entries = append(n.entries, Entry{Msg: fmt.Sprint(v...), Level: level})
}

func (n *TestLogger) Logf(level log.Level, template string, args ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.entries = append(n.entries, Entry{Msg: fmt.Sprintf(template, args...), Level: level})
}

// WithFields returns the same logger, entries of derived loggers stay observable
func (n *TestLogger) WithFields(fields log.Fields) log.Logger {
	return n
}

func (n *TestLogger) SetLevel(level log.Level) {
	n.level = level
}

func (n *TestLogger) Entries() []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]Entry(nil), n.entries...)
}

func (n *TestLogger) Messages() []string {
	entries := n.Entries()

	r := make([]string, len(entries))
	for i := range entries {
		r[i] = entries[i].Msg
	}

	return r
}

func (n *TestLogger) LastMessage() string {
	entries := n.Entries()

	if len(entries) > 0 {
		return entries[len(entries)-1].Msg
	}

	return ""
}

func (n *TestLogger) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.entries = make([]Entry, 0)
	n.level = log.InfoLevel
}
