package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders human-oriented console output: a one-line header
// carrying level, component, and the subject triple, followed by indented
// field bullets. Repeated info fields for the same subject are suppressed so
// steady-state logs stay readable.
type prettyHandler struct {
	mu        sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
	infoCache map[string]map[string]string
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{writer: w, level: lvl, addSource: addSource, infoCache: make(map[string]map[string]string)}
}

// headerLine is the rendered identity of one record.
type headerLine struct {
	ts        time.Time
	level     slog.Level
	component string
	userID    string
	caseID    string
	tier      string
	message   string
	src       *slog.Source
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})
	kvs = dedupeKVsByKey(kvs)

	line := headerLine{
		ts:      record.Time,
		level:   record.Level,
		message: strings.TrimSpace(record.Message),
		src:     recordSource(record),
	}
	if line.ts.IsZero() {
		line.ts = time.Now()
	}
	if line.message == "" {
		line.message = "(no message)"
	}

	// The component moves into the header bracket; the subject triple is
	// echoed in the header but stays in the field list too.
	fields := make([]kv, 0, len(kvs))
	for _, pair := range kvs {
		switch pair.key {
		case FieldComponent:
			if line.component == "" {
				line.component = attrString(pair.value)
			}
			continue
		case FieldUserID:
			if line.userID == "" {
				line.userID = attrString(pair.value)
			}
		case FieldCaseID:
			if line.caseID == "" {
				line.caseID = attrString(pair.value)
			}
		case FieldTier:
			if line.tier == "" {
				line.tier = attrString(pair.value)
			}
		}
		fields = append(fields, pair)
	}

	var buf bytes.Buffer
	buf.Grow(256 + len(fields)*32)

	h.mu.Lock()
	defer h.mu.Unlock()
	if record.Level < slog.LevelInfo {
		h.renderDebug(&buf, line, kvs)
	} else {
		h.renderInfo(&buf, line, fields)
	}
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) renderInfo(buf *bytes.Buffer, line headerLine, attrs []kv) {
	h.writeHeader(buf, line)
	fields, hidden := selectInfoFields(attrs, 0, true)
	summaryKey := infoSummaryKey(line.component, line.userID, line.caseID, attrs)
	fields, hidden = h.filterRepeatedInfo(summaryKey, fields, hidden, line.level)
	buf.WriteByte('\n')
	for _, field := range fields {
		buf.WriteString("    - ")
		buf.WriteString(field.label)
		buf.WriteString(": ")
		buf.WriteString(field.value)
		buf.WriteByte('\n')
	}
	if hidden > 0 {
		buf.WriteString("    + ")
		buf.WriteString(strconv.Itoa(hidden))
		buf.WriteString(" more field")
		if hidden != 1 {
			buf.WriteByte('s')
		}
		buf.WriteString(" hidden\n")
	}
}

// renderDebug dumps every attribute; debug output favors completeness over
// the curated info view.
func (h *prettyHandler) renderDebug(buf *bytes.Buffer, line headerLine, attrs []kv) {
	h.writeHeader(buf, line)
	buf.WriteByte('\n')
	for _, pair := range attrs {
		if pair.key == "" {
			continue
		}
		buf.WriteString("    ")
		buf.WriteString(pair.key)
		buf.WriteString(": ")
		buf.WriteString(formatValue(pair.value))
		buf.WriteByte('\n')
	}
}

func (h *prettyHandler) writeHeader(buf *bytes.Buffer, line headerLine) {
	buf.WriteString(formatTimestamp(line.ts))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(line.level))
	if line.component != "" {
		buf.WriteString(" [")
		buf.WriteString(line.component)
		buf.WriteByte(']')
	}
	if subject := FormatSubject(line.userID, line.caseID, line.tier); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
	}
	if line.message != "" {
		buf.WriteString(" – ")
		buf.WriteString(line.message)
	}
	if h.addSource && line.src != nil {
		buf.WriteString(" [")
		buf.WriteString(filepath.Base(line.src.File))
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(line.src.Line))
		buf.WriteByte(']')
	}
}

// filterRepeatedInfo drops info bullets whose value matches what was last
// printed for the same subject. Warnings and errors always print in full and
// refresh the cache.
func (h *prettyHandler) filterRepeatedInfo(key string, fields []infoField, hidden int, level slog.Level) ([]infoField, int) {
	if key == "" || len(fields) == 0 {
		return fields, hidden
	}
	cache, ok := h.infoCache[key]
	if !ok {
		cache = make(map[string]string)
		h.infoCache[key] = cache
	}
	if level > slog.LevelInfo {
		for _, field := range fields {
			cache[field.label] = field.value
		}
		return fields, hidden
	}
	kept := make([]infoField, 0, len(fields))
	for _, field := range fields {
		if prev, seen := cache[field.label]; seen && prev == field.value {
			continue
		}
		cache[field.label] = field.value
		kept = append(kept, field)
	}
	return kept, hidden
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	clone := &prettyHandler{
		writer:    h.writer,
		level:     h.level,
		addSource: h.addSource,
		infoCache: h.infoCache,
	}
	clone.attrs = append(clone.attrs, h.attrs...)
	clone.groups = append(clone.groups, h.groups...)
	return clone
}

type kv struct {
	key   string
	value slog.Value
}

// dedupeKVsByKey keeps first-occurrence ordering while letting later values
// (call-site attrs) replace earlier ones (bound attrs).
func dedupeKVsByKey(attrs []kv) []kv {
	if len(attrs) < 2 {
		return attrs
	}
	positions := make(map[string]int, len(attrs))
	deduped := make([]kv, 0, len(attrs))
	for _, attr := range attrs {
		if attr.key == "" {
			continue
		}
		if pos, ok := positions[attr.key]; ok {
			deduped[pos].value = attr.value
			continue
		}
		positions[attr.key] = len(deduped)
		deduped = append(deduped, attr)
	}
	return deduped
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		nextPrefix := prefix
		if attr.Key != "" {
			nextPrefix = append(append([]string{}, prefix...), attr.Key)
		}
		flattenAttrs(dst, nextPrefix, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		if key == "" {
			key = strings.Join(prefix, ".")
		} else {
			key = strings.Join(append(append([]string{}, prefix...), key), ".")
		}
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// recordSource mirrors slog.Record.Source, which is unavailable before Go
// 1.25: it resolves the record's PC into a Source, or nil if there is none.
func recordSource(record slog.Record) *slog.Source {
	if record.PC == 0 {
		return nil
	}
	fs := runtime.CallersFrames([]uintptr{record.PC})
	f, _ := fs.Next()
	if f.File == "" && f.Line == 0 && f.Function == "" {
		return nil
	}
	return &slog.Source{Function: f.Function, File: f.File, Line: f.Line}
}
