package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/internal/crisis"
	"vigil/internal/testsupport"
)

func TestCaseListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"case", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("case list: %v", err)
	}
	requireContains(t, out, "No cases on record")
}

func TestCaseListShowAndAck(t *testing.T) {
	env := setupCLITestEnv(t)

	now := time.Now().UTC()
	c := testsupport.NewOpenCase(t, env.store, "user-7", crisis.TierCounselor, now)

	out, _, err := runCLI(t, []string{"case", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("case list: %v", err)
	}
	requireContains(t, out, "user-7")
	requireContains(t, out, "COUNSELOR")

	out, _, err = runCLI(t, []string{"case", "show", c.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("case show: %v", err)
	}
	requireContains(t, out, c.ID)
	requireContains(t, out, "Tier history")

	out, _, err = runCLI(t, []string{"case", "show", "--user", "user-7"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("case show by user: %v", err)
	}
	requireContains(t, out, c.ID)

	_, _, err = runCLI(t, []string{"case", "ack", c.ID}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected ack without --by to fail")
	}

	out, _, err = runCLI(t, []string{"case", "ack", c.ID, "--by", "dr-lee"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("case ack: %v", err)
	}
	requireContains(t, out, "acknowledged")
}

func TestPlanSetAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	doc := `{"coping_steps":["breathe"],"trusted_contacts":[{"name":"Sam","channel":"sms","address":"+15550100"}],"updated_by":"dr-lee"}`
	out, _, err := runCLIWithInput(t, []string{"plan", "set", "user-3"}, env.socketPath, env.configPath, doc)
	if err != nil {
		t.Fatalf("plan set: %v", err)
	}
	requireContains(t, out, "version 1")

	planPath := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(planPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}
	out, _, err = runCLI(t, []string{"plan", "set", "user-3", "--file", planPath}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("plan set from file: %v", err)
	}
	requireContains(t, out, "version 2")

	out, _, err = runCLI(t, []string{"plan", "show", "user-3"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("plan show: %v", err)
	}
	requireContains(t, out, "Sam")
	requireContains(t, out, "breathe")

	out, _, err = runCLI(t, []string{"plan", "show", "user-unknown"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("plan show missing: %v", err)
	}
	requireContains(t, out, "No safety plan on file")
}

func TestPlanShowJSONMode(t *testing.T) {
	env := setupCLITestEnv(t)

	doc := `{"coping_steps":["call a friend"]}`
	if _, _, err := runCLIWithInput(t, []string{"plan", "set", "user-9"}, env.socketPath, env.configPath, doc); err != nil {
		t.Fatalf("plan set: %v", err)
	}

	out, _, err := runCLI(t, []string{"--json", "plan", "show", "user-9"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("plan show --json: %v", err)
	}
	var payload struct {
		Found bool `json:"found"`
		Plan  struct {
			Version int `json:"version"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("parse json output: %v\n%s", err, out)
	}
	if !payload.Found || payload.Plan.Version != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAuditExportSelectors(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"audit", "export"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "provide --user or --case") {
		t.Fatalf("expected selector error, got %v", err)
	}

	out, _, err := runCLI(t, []string{"audit", "export", "--user", "user-1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("audit export: %v", err)
	}
	requireContains(t, out, "No audit records found")
}

func TestSignalSendValidation(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"signal", "send", "--source", "text"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--user is required") {
		t.Fatalf("expected user error, got %v", err)
	}

	_, _, err = runCLI(t, []string{"signal", "send", "--user", "u1", "--source", "telepathy"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown source") {
		t.Fatalf("expected source error, got %v", err)
	}

	_, _, err = runCLI(t, []string{"signal", "send", "--user", "u1", "--source", "text", "--feature", "bad"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid feature") {
		t.Fatalf("expected feature error, got %v", err)
	}
}

func TestStatusRendersSections(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon")
	requireContains(t, out, "Engine")
	requireContains(t, out, "Cases")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)

	content := "[paths]\ndata_dir = " + quote(env.cfg.Paths.DataDir) +
		"\nlog_dir = " + quote(env.cfg.Paths.LogDir) +
		"\napi_token = \"super-secret\"\n"
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "super-secret") {
		t.Fatalf("expected api token to be redacted:\n%s", out)
	}
	requireContains(t, out, "<redacted>")
}

func quote(value string) string {
	encoded, _ := json.Marshal(value)
	return string(encoded)
}
