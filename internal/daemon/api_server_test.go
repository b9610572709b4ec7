package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vigil/internal/api"
	"vigil/internal/config"
	"vigil/internal/crisis"
	"vigil/internal/engine"
	"vigil/internal/logging"
	"vigil/internal/testsupport"
)

type apiEnv struct {
	daemon *Daemon
	store  *crisis.Store
	cfg    *config.Config
	hub    *logging.StreamHub
}

func newAPIEnv(t *testing.T, mutate func(cfg *config.Config), opts ...testsupport.ConfigOption) *apiEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	if mutate != nil {
		mutate(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)

	logger := logging.NewNop()
	mgr, err := engine.NewManager(cfg, store, logger)
	if err != nil {
		t.Fatalf("engine.NewManager: %v", err)
	}

	hub := logging.NewStreamHub(64)
	d, err := New(cfg, store, logger, mgr, "", "", hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if d.apiServer == nil {
		t.Fatal("api server not configured")
	}
	return &apiEnv{daemon: d, store: store, cfg: cfg, hub: hub}
}

// do routes a request through the full handler chain, auth included, without
// binding a real listener.
func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.daemon.apiServer.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func signalRequest(userID string, confidence float64) api.SignalRequest {
	return api.SignalRequest{
		UserID:        userID,
		Source:        "text",
		Timestamp:     time.Now().UTC(),
		Features:      map[string]float64{"sentiment": confidence},
		RawConfidence: confidence,
	}
}

func TestAuthRequiresBearerToken(t *testing.T) {
	env := newAPIEnv(t, nil, testsupport.WithAPIToken("secret"))

	if rec := env.do(t, http.MethodGet, "/internal/status", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/internal/status", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/internal/status", "secret", nil); rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", rec.Code)
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/internal/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSignalsEndpointAdmitsAndRejects(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/internal/signals", "", signalRequest("user-1", 0.4))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %q)", rec.Code, rec.Body.String())
	}
	var resp api.SignalResponse
	decodeInto(t, rec, &resp)
	if !resp.Accepted || resp.UserID != "user-1" {
		t.Fatalf("response = %+v", resp)
	}

	rec = env.do(t, http.MethodPost, "/internal/signals", "", signalRequest("", 0.4))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank user status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/signals", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	env.daemon.apiServer.server.Handler.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", raw.Code)
	}

	if rec = env.do(t, http.MethodGet, "/internal/signals", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}
}

func TestSignalsEndpointSurfacesBackpressure(t *testing.T) {
	env := newAPIEnv(t, func(cfg *config.Config) {
		cfg.Engine.QueueCapacity = 1
	})

	// The engine never starts, so the single shard slot stays occupied.
	if rec := env.do(t, http.MethodPost, "/internal/signals", "", signalRequest("user-1", 0.4)); rec.Code != http.StatusAccepted {
		t.Fatalf("first signal status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/internal/signals", "", signalRequest("user-1", 0.5))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("saturated status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ingest queue full") {
		t.Fatalf("saturated body = %q", rec.Body.String())
	}
}

func TestCaseListAndDetail(t *testing.T) {
	env := newAPIEnv(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	open := testsupport.NewOpenCase(t, env.store, "user-1", crisis.TierCounselor, now)
	resolved := testsupport.NewOpenCase(t, env.store, "user-2", crisis.TierMonitor, now)
	resolved.Status = crisis.CaseResolved
	if err := env.store.UpdateCase(ctx, resolved); err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/internal/cases", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list api.CaseListResponse
	decodeInto(t, rec, &list)
	if len(list.Cases) != 2 {
		t.Fatalf("cases = %d, want 2", len(list.Cases))
	}

	rec = env.do(t, http.MethodGet, "/internal/cases?status=open", "", nil)
	decodeInto(t, rec, &list)
	if len(list.Cases) != 1 || list.Cases[0].ID != open.ID {
		t.Fatalf("open filter = %+v", list.Cases)
	}

	if rec = env.do(t, http.MethodGet, "/internal/cases?status=bogus", "", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("bad status filter = %d, want 500", rec.Code)
	}

	if _, err := env.store.CreateAttempt(ctx, open.ID, crisis.TierCounselor, "counselor", "crisis-counselor-queue", now); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	rec = env.do(t, http.MethodGet, "/internal/cases/user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	var detail api.CaseDetail
	decodeInto(t, rec, &detail)
	if detail.Case.ID != open.ID || detail.Case.Tier != "COUNSELOR" {
		t.Fatalf("detail case = %+v", detail.Case)
	}
	if len(detail.Attempts) != 1 || detail.Attempts[0].Target != "crisis-counselor-queue" {
		t.Fatalf("detail attempts = %+v", detail.Attempts)
	}

	if rec = env.do(t, http.MethodGet, "/internal/cases/user-2", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("resolved user detail status = %d, want 404", rec.Code)
	}
}

func TestAcknowledgeEndpoint(t *testing.T) {
	env := newAPIEnv(t, nil)
	now := time.Now().UTC()
	c := testsupport.NewOpenCase(t, env.store, "user-1", crisis.TierMonitor, now)

	rec := env.do(t, http.MethodPost, "/internal/cases/"+c.ID+"/acknowledge", "", api.AcknowledgeRequest{Actor: "dr-lee"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ack status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var resp api.AcknowledgeResponse
	decodeInto(t, rec, &resp)
	if !resp.Case.Acknowledged || resp.Case.AckBy != "dr-lee" {
		t.Fatalf("ack case = %+v", resp.Case)
	}
	// Risk has not subsided, so the acknowledgement leaves the case open.
	if resp.Resolved || resp.Case.Status != "open" {
		t.Fatalf("resolved = %v, status = %q", resp.Resolved, resp.Case.Status)
	}

	rec = env.do(t, http.MethodPost, "/internal/cases/no-such-case/acknowledge", "", api.AcknowledgeRequest{Actor: "dr-lee"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown case ack status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/internal/cases/"+c.ID+"/acknowledge", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET ack status = %d, want 405", rec.Code)
	}
}

func TestSafetyPlanEndpoints(t *testing.T) {
	env := newAPIEnv(t, nil)

	if rec := env.do(t, http.MethodGet, "/internal/safety-plans/user-1", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing plan status = %d, want 404", rec.Code)
	}

	put := api.SafetyPlanRequest{
		CopingSteps:        []string{"breathe slowly"},
		TrustedContacts:    []api.Contact{{Name: "Jo", Channel: "sms", Address: "+15550100"}},
		PreferredResources: []string{"grounding-audio"},
		UpdatedBy:          "dr-lee",
	}
	rec := env.do(t, http.MethodPut, "/internal/safety-plans/user-1", "", put)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var plan api.SafetyPlan
	decodeInto(t, rec, &plan)
	if plan.Version != 1 || plan.UserID != "user-1" {
		t.Fatalf("plan = %+v", plan)
	}

	put.CopingSteps = append(put.CopingSteps, "call a friend")
	rec = env.do(t, http.MethodPut, "/internal/safety-plans/user-1", "", put)
	decodeInto(t, rec, &plan)
	if plan.Version != 2 {
		t.Fatalf("version after second put = %d, want 2", plan.Version)
	}

	rec = env.do(t, http.MethodGet, "/internal/safety-plans/user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	decodeInto(t, rec, &plan)
	if plan.Version != 2 || len(plan.CopingSteps) != 2 || plan.TrustedContacts[0].Address != "+15550100" {
		t.Fatalf("stored plan = %+v", plan)
	}

	if rec = env.do(t, http.MethodDelete, "/internal/safety-plans/user-1", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete status = %d, want 405", rec.Code)
	}
}

func TestAuditEndpoint(t *testing.T) {
	env := newAPIEnv(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	c := testsupport.NewOpenCase(t, env.store, "user-1", crisis.TierMonitor, now)

	if _, err := env.store.AppendAudit(ctx, "user-1", "", crisis.AuditSignalIngested, map[string]any{"source": "text"}, now.Add(time.Second)); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if _, err := env.store.AppendAudit(ctx, "user-1", c.ID, crisis.AuditTierTransition, map[string]any{"to": "MONITOR"}, now.Add(2*time.Second)); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	if rec := env.do(t, http.MethodGet, "/internal/audit", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("no filter status = %d, want 400", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/internal/audit?user_id=user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user audit status = %d", rec.Code)
	}
	var resp api.AuditResponse
	decodeInto(t, rec, &resp)
	// CreateCase writes the opening record, so the user trail has three entries.
	if len(resp.Records) != 3 {
		t.Fatalf("user records = %d, want 3", len(resp.Records))
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/internal/audit?case_id=%s", c.ID), "", nil)
	decodeInto(t, rec, &resp)
	for _, record := range resp.Records {
		if record.CaseID != c.ID {
			t.Fatalf("case filter leaked record %+v", record)
		}
	}
	if len(resp.Records) == 0 {
		t.Fatal("case audit trail empty")
	}

	rec = env.do(t, http.MethodGet, "/internal/audit?user_id=user-1&limit=1", "", nil)
	decodeInto(t, rec, &resp)
	if len(resp.Records) != 1 {
		t.Fatalf("limited records = %d, want 1", len(resp.Records))
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t, nil)
	now := time.Now().UTC()
	testsupport.NewOpenCase(t, env.store, "user-1", crisis.TierMonitor, now)

	rec := env.do(t, http.MethodGet, "/internal/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status api.DaemonStatus
	decodeInto(t, rec, &status)
	if status.Running {
		t.Fatal("stopped daemon reported running")
	}
	if status.DatabasePath != env.cfg.DatabasePath() {
		t.Fatalf("database path = %q", status.DatabasePath)
	}
	if status.Engine.OpenCases != 1 {
		t.Fatalf("open cases = %d, want 1", status.Engine.OpenCases)
	}
}

func TestLogsEndpointTailAndFilters(t *testing.T) {
	env := newAPIEnv(t, nil)

	env.hub.Publish(logging.LogEvent{Level: "INFO", Message: "signal admitted", Component: "engine", UserID: "user-1"})
	env.hub.Publish(logging.LogEvent{Level: "WARN", Message: "delivery retry scheduled", Component: "dispatch", UserID: "user-2"})
	env.hub.Publish(logging.LogEvent{Level: "INFO", Message: "tier advanced", Component: "engine", UserID: "user-2"})

	rec := env.do(t, http.MethodGet, "/internal/logs?tail=1&limit=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tail status = %d", rec.Code)
	}
	var resp api.LogStreamResponse
	decodeInto(t, rec, &resp)
	if len(resp.Events) != 3 || resp.Next == 0 {
		t.Fatalf("tail = %d events, next %d", len(resp.Events), resp.Next)
	}

	rec = env.do(t, http.MethodGet, "/internal/logs?tail=1&component=dispatch", "", nil)
	decodeInto(t, rec, &resp)
	if len(resp.Events) != 1 || resp.Events[0].Message != "delivery retry scheduled" {
		t.Fatalf("component filter = %+v", resp.Events)
	}

	rec = env.do(t, http.MethodGet, "/internal/logs?tail=1&user_id=user-2", "", nil)
	decodeInto(t, rec, &resp)
	if len(resp.Events) != 2 {
		t.Fatalf("user filter = %d events, want 2", len(resp.Events))
	}

	// Fetching from a cursor skips everything at or before it.
	cursor := resp.Next
	env.hub.Publish(logging.LogEvent{Level: "INFO", Message: "case resolved", Component: "engine"})
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/internal/logs?since=%d", cursor), "", nil)
	decodeInto(t, rec, &resp)
	if len(resp.Events) != 1 || resp.Events[0].Message != "case resolved" {
		t.Fatalf("since fetch = %+v", resp.Events)
	}
}
