package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is one JSON log line. The component and run_id attributes are
// lifted to the top level so pipeline runs can be grepped without jq.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// lifted maps attribute keys to the LogEntry field they fill.
var lifted = map[string]func(*LogEntry, string){
	"component": func(e *LogEntry, v string) { e.Component = v },
	"run_id":    func(e *LogEntry, v string) { e.RunID = v },
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) writeLine(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(append(line, '\n'))
	return err
}

// entryHandler writes LogEntry lines. Attributes bound through WithAttrs are
// rendered once into base rather than on every record.
type entryHandler struct {
	opts   options
	out    *lockedWriter
	prefix string
	base   LogEntry
}

func newEntryHandler(writer io.Writer, opts options) *entryHandler {
	return &entryHandler{opts: opts, out: &lockedWriter{w: writer}}
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level
}

func (h *entryHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := h.base
	entry.Level = strings.ToLower(record.Level.String())
	entry.Timestamp = at.UTC().Format(time.RFC3339Nano)
	entry.Message = record.Message
	entry.Fields = maps.Clone(h.base.Fields)

	record.Attrs(func(attr slog.Attr) bool {
		h.render(&entry, attr)
		return true
	})
	if h.opts.addSource {
		entry.Caller = caller(record.PC)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return h.out.writeLine(line)
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.base.Fields = maps.Clone(h.base.Fields)
	for _, attr := range attrs {
		next.render(&next.base, attr)
	}
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *entryHandler) render(entry *LogEntry, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := h.prefix + attr.Key
	if set, ok := lifted[key]; ok && attr.Value.Kind() == slog.KindString {
		set(entry, attr.Value.String())
		return
	}

	if entry.Fields == nil {
		entry.Fields = make(map[string]any)
	}
	entry.Fields[key] = plainValue(attr.Value)
}

func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

// plainValue converts a slog value to something encoding/json renders
// readably. Durations become milliseconds.
func plainValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().Milliseconds()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := make(map[string]any, len(value.Group()))
		for _, item := range value.Group() {
			group[item.Key] = plainValue(item.Value.Resolve())
		}
		return group
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.Any()
	}
}
