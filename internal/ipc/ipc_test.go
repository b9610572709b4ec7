package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/internal/api"
	"vigil/internal/crisis"
	"vigil/internal/daemon"
	"vigil/internal/engine"
	"vigil/internal/ipc"
	"vigil/internal/logging"
	"vigil/internal/testsupport"
)

type ipcEnv struct {
	client *ipc.Client
	store  *crisis.Store
	hub    *logging.StreamHub
}

func newIPCEnv(t *testing.T) *ipcEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	logger := logging.NewNop()
	mgr, err := engine.NewManager(cfg, store, logger)
	if err != nil {
		t.Fatalf("engine.NewManager: %v", err)
	}
	hub := logging.NewStreamHub(64)
	d, err := daemon.New(cfg, store, logger, mgr, "", "", hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.LogDir, "ipc-test.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	client, err := ipc.Dial(socketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		cancel()
		srv.Close()
		d.Close()
	})
	return &ipcEnv{client: client, store: store, hub: hub}
}

func TestStartStatusStopRoundTrip(t *testing.T) {
	env := newIPCEnv(t)

	status, err := env.client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatal("daemon reported running before start")
	}

	start, err := env.client.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !start.Started {
		t.Fatalf("start = %+v", start)
	}

	status, err = env.client.Status()
	if err != nil {
		t.Fatalf("Status after start: %v", err)
	}
	if !status.Running || !status.Engine.Running {
		t.Fatalf("status after start = %+v", status)
	}
	if status.DatabasePath == "" || status.LockPath == "" {
		t.Fatalf("status paths = %+v", status)
	}

	// Starting twice reports the failure in-band rather than as an RPC error.
	start, err = env.client.Start()
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if start.Started {
		t.Fatal("second start succeeded on a running daemon")
	}

	stop, err := env.client.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stop.Stopped {
		t.Fatalf("stop = %+v", stop)
	}
	status, err = env.client.Status()
	if err != nil {
		t.Fatalf("Status after stop: %v", err)
	}
	if status.Running {
		t.Fatal("daemon still running after stop")
	}
}

func TestSignalSendValidatesThroughDaemon(t *testing.T) {
	env := newIPCEnv(t)

	resp, err := env.client.SignalSend(ipc.SignalSendRequest{
		Signal: api.SignalRequest{
			UserID:        "user-1",
			Source:        "text",
			Timestamp:     time.Now().UTC(),
			Features:      map[string]float64{"sentiment": 0.4},
			RawConfidence: 0.4,
		},
	})
	if err != nil {
		t.Fatalf("SignalSend: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("valid signal not accepted")
	}

	_, err = env.client.SignalSend(ipc.SignalSendRequest{
		Signal: api.SignalRequest{
			UserID:        "user-1",
			Source:        "pager",
			Timestamp:     time.Now().UTC(),
			RawConfidence: 0.4,
		},
	})
	if err == nil || !strings.Contains(err.Error(), "source") {
		t.Fatalf("unknown source error = %v", err)
	}
}

func TestCaseOperationsOverSocket(t *testing.T) {
	env := newIPCEnv(t)
	now := time.Now().UTC()
	c := testsupport.NewOpenCase(t, env.store, "user-1", crisis.TierCounselor, now)

	list, err := env.client.CaseList("")
	if err != nil {
		t.Fatalf("CaseList: %v", err)
	}
	if len(list.Cases) != 1 || list.Cases[0].ID != c.ID {
		t.Fatalf("cases = %+v", list.Cases)
	}

	described, err := env.client.CaseDescribe("", "user-1")
	if err != nil {
		t.Fatalf("CaseDescribe by user: %v", err)
	}
	if described.Detail.Case.Tier != "COUNSELOR" {
		t.Fatalf("described tier = %q", described.Detail.Case.Tier)
	}
	described, err = env.client.CaseDescribe(c.ID, "")
	if err != nil {
		t.Fatalf("CaseDescribe by id: %v", err)
	}
	if described.Detail.Case.ID != c.ID {
		t.Fatalf("described case = %+v", described.Detail.Case)
	}
	if _, err = env.client.CaseDescribe("", "nobody"); err == nil {
		t.Fatal("describe for unknown user succeeded")
	}

	ack, err := env.client.Acknowledge(c.ID, "dr-lee")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if !ack.Case.Acknowledged || ack.Case.AckBy != "dr-lee" {
		t.Fatalf("ack = %+v", ack)
	}
	if _, err = env.client.Acknowledge("", "dr-lee"); err == nil {
		t.Fatal("acknowledge without case id succeeded")
	}
}

func TestPlanAndAuditOverSocket(t *testing.T) {
	env := newIPCEnv(t)

	got, err := env.client.PlanGet("user-1")
	if err != nil {
		t.Fatalf("PlanGet: %v", err)
	}
	if got.Found {
		t.Fatal("plan reported before any upsert")
	}

	set, err := env.client.PlanSet(ipc.PlanSetRequest{
		UserID: "user-1",
		Plan: api.SafetyPlanRequest{
			CopingSteps: []string{"breathe slowly"},
			UpdatedBy:   "dr-lee",
		},
	})
	if err != nil {
		t.Fatalf("PlanSet: %v", err)
	}
	if set.Plan.Version != 1 {
		t.Fatalf("plan version = %d, want 1", set.Plan.Version)
	}

	got, err = env.client.PlanGet("user-1")
	if err != nil {
		t.Fatalf("PlanGet after set: %v", err)
	}
	if !got.Found || got.Plan.CopingSteps[0] != "breathe slowly" {
		t.Fatalf("plan = %+v", got)
	}

	audit, err := env.client.AuditExport(ipc.AuditExportRequest{UserID: "user-1"})
	if err != nil {
		t.Fatalf("AuditExport: %v", err)
	}
	if len(audit.Records) == 0 {
		t.Fatal("plan update left no audit trail")
	}
	if _, err = env.client.AuditExport(ipc.AuditExportRequest{}); err == nil {
		t.Fatal("audit export without filters succeeded")
	}
}

func TestLogTailOverSocket(t *testing.T) {
	env := newIPCEnv(t)

	env.hub.Publish(logging.LogEvent{Level: "INFO", Message: "first", Component: "engine"})
	env.hub.Publish(logging.LogEvent{Level: "INFO", Message: "second", Component: "engine"})

	tail, err := env.client.LogTail(ipc.LogTailRequest{Limit: 10})
	if err != nil {
		t.Fatalf("LogTail: %v", err)
	}
	if len(tail.Events) != 2 || tail.Events[1].Message != "second" {
		t.Fatalf("tail = %+v", tail.Events)
	}

	env.hub.Publish(logging.LogEvent{Level: "INFO", Message: "third", Component: "engine"})
	tail, err = env.client.LogTail(ipc.LogTailRequest{Since: tail.Next, Limit: 10})
	if err != nil {
		t.Fatalf("LogTail since: %v", err)
	}
	if len(tail.Events) != 1 || tail.Events[0].Message != "third" {
		t.Fatalf("since tail = %+v", tail.Events)
	}
}

func TestDatabaseHealthOverSocket(t *testing.T) {
	env := newIPCEnv(t)

	health, err := env.client.DatabaseHealth()
	if err != nil {
		t.Fatalf("DatabaseHealth: %v", err)
	}
	if !health.Health.DatabaseExists || !health.Health.IntegrityCheck {
		t.Fatalf("health = %+v", health.Health)
	}
	if len(health.Health.MissingTables) != 0 {
		t.Fatalf("missing tables = %v", health.Health.MissingTables)
	}
}

func TestTestNotificationWithoutOperatorURL(t *testing.T) {
	env := newIPCEnv(t)

	resp, err := env.client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if resp.Sent {
		t.Fatal("notification sent with no operator url configured")
	}
	if !strings.Contains(resp.Message, "not configured") {
		t.Fatalf("message = %q", resp.Message)
	}
}
