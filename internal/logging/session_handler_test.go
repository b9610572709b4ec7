package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSessionIDHandlerStampsEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSessionIDHandler(slog.NewJSONHandler(&buf, nil), "run-20260301"))

	logger.Info("daemon started")
	logger.Warn("dispatch retry scheduled")

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, `"session_id":"run-20260301"`) {
			t.Fatalf("record missing session id: %s", line)
		}
	}
}

func TestSessionIDHandlerSurvivesWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSessionIDHandler(slog.NewJSONHandler(&buf, nil), "run-1"))

	logger.With(String(FieldUserID, "user-7")).Info("signal admitted")

	out := buf.String()
	if !strings.Contains(out, `"session_id":"run-1"`) {
		t.Fatalf("session id lost through With: %s", out)
	}
	if !strings.Contains(out, `"user_id":"user-7"`) {
		t.Fatalf("bound attr lost: %s", out)
	}
}

func TestSessionIDHandlerNilBase(t *testing.T) {
	if _, ok := newSessionIDHandler(nil, "run-1").(NoopHandler); !ok {
		t.Fatal("nil base should collapse to the noop handler")
	}
}
