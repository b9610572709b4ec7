package preflight_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vigil/internal/preflight"
	"vigil/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	base := t.TempDir()

	result := preflight.CheckDirectoryAccess("Data directory", base)
	if !result.Passed {
		t.Fatalf("writable dir failed: %+v", result)
	}

	result = preflight.CheckDirectoryAccess("Data directory", filepath.Join(base, "missing"))
	if result.Passed || !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("missing dir = %+v", result)
	}

	file := filepath.Join(base, "plain")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result = preflight.CheckDirectoryAccess("Data directory", file)
	if result.Passed || !strings.Contains(result.Detail, "not a directory") {
		t.Fatalf("plain file = %+v", result)
	}
}

func TestCheckDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	result := preflight.CheckDatabase(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("fresh database failed: %+v", result)
	}
	if !strings.Contains(result.Detail, "0 open cases") {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestCheckEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	// Any HTTP answer counts; auth failures belong to dispatch.
	result := preflight.CheckEndpoint(context.Background(), "Push channel", server.URL)
	if !result.Passed {
		t.Fatalf("answering endpoint failed: %+v", result)
	}

	result = preflight.CheckEndpoint(context.Background(), "Push channel", "http://127.0.0.1:1/push")
	if result.Passed || !strings.Contains(result.Detail, "unreachable") {
		t.Fatalf("dead endpoint = %+v", result)
	}

	result = preflight.CheckEndpoint(context.Background(), "Push channel", "  ")
	if result.Passed || result.Detail != "not configured" {
		t.Fatalf("blank endpoint = %+v", result)
	}
}

func TestRunAllCoversConfiguredSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithChannelURL("sms", server.URL))
	cfg.Operators.AlertURL = server.URL

	results := preflight.RunAll(context.Background(), cfg)

	byName := make(map[string]preflight.Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}

	for _, name := range []string{"Data directory", "Log directory", "Case database", "SMS channel", "Operator alerts"} {
		result, ok := byName[name]
		if !ok {
			t.Fatalf("check %q missing from %+v", name, results)
		}
		if !result.Passed {
			t.Fatalf("check %q failed: %+v", name, result)
		}
	}

	// Unconfigured channels never produce endpoint checks.
	if _, ok := byName["Voice channel"]; ok {
		t.Fatal("voice endpoint checked without a url")
	}
}

func TestRunAllFlagsMissingOperatorAlerts(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	results := preflight.RunAll(context.Background(), cfg)
	for _, r := range results {
		if r.Name != "Operator alerts" {
			continue
		}
		if r.Passed || !strings.Contains(r.Detail, "not configured") {
			t.Fatalf("operator check = %+v", r)
		}
		return
	}
	t.Fatal("operator alerts check missing")
}
