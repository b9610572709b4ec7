package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestNewTeeHandlerCollapsesDegenerateCases(t *testing.T) {
	if _, ok := newTeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("all-nil sinks should collapse to the noop handler")
	}

	var buf bytes.Buffer
	only := slog.NewJSONHandler(&buf, nil)
	if got := newTeeHandler(nil, only, nil); got != only {
		t.Fatal("single live sink should be returned unwrapped")
	}
}

func TestTeeHandlerEnabledWhenAnySinkIs(t *testing.T) {
	var a, b bytes.Buffer
	info := slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := newTeeHandler(info, debug)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug disabled although one sink accepts it")
	}

	warnOnly := newTeeHandler(
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	if warnOnly.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug enabled although no sink accepts it")
	}
}

func TestTeeHandlerWritesToEverySink(t *testing.T) {
	var console, file bytes.Buffer
	h := newTeeHandler(
		slog.NewJSONHandler(&console, nil),
		slog.NewJSONHandler(&file, nil),
	)

	slog.New(h).Info("case opened", String(FieldCaseID, "case-12"))

	for name, buf := range map[string]*bytes.Buffer{"console": &console, "file": &file} {
		if !bytes.Contains(buf.Bytes(), []byte("case-12")) {
			t.Fatalf("%s sink missing record: %q", name, buf.String())
		}
	}
}

func TestTeeHandlerRespectsPerSinkLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := newTeeHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)

	slog.New(h).Debug("dispatch queue depth sampled")

	if infoBuf.Len() != 0 {
		t.Fatalf("info sink received a debug record: %q", infoBuf.String())
	}
	if debugBuf.Len() == 0 {
		t.Fatal("debug sink missed a debug record")
	}
}

func TestTeeHandlerWithAttrsAndGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := newTeeHandler(slog.NewJSONHandler(&a, nil), slog.NewJSONHandler(&b, nil))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String(FieldUserID, "user-7")}).WithGroup("risk"))
	logger.Info("score computed", slog.Float64("composite", 0.42))

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !bytes.Contains(buf.Bytes(), []byte(`"user_id"`)) {
			t.Fatalf("%s sink missing pre-bound attr: %q", name, buf.String())
		}
		if !bytes.Contains(buf.Bytes(), []byte(`"risk"`)) {
			t.Fatalf("%s sink missing group: %q", name, buf.String())
		}
	}
}
