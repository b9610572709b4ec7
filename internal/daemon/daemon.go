package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"vigil/internal/api"
	"vigil/internal/config"
	"vigil/internal/crisis"
	"vigil/internal/engine"
	"vigil/internal/logging"
	"vigil/internal/signals"
)

// Daemon coordinates the engine and control surfaces and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	store      *crisis.Store
	engine     *engine.Manager
	logPath    string
	logHub     *logging.StreamHub
	logArchive *logging.EventArchive

	lockPath string
	lock     *flock.Flock

	apiServer *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	Engine       engine.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *crisis.Store, logger *slog.Logger, mgr *engine.Manager, configPath, logPath string, hub *logging.StreamHub, archive *logging.EventArchive) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, logger, and engine manager")
	}

	lockPath := cfg.PIDPath() + ".lock"
	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		store:      store,
		engine:     mgr,
		logPath:    logPath,
		logHub:     hub,
		logArchive: archive,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiServer = server
	return d, nil
}

// Start acquires the daemon lock and launches the engine and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vigil daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.engine.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start engine: %w", err)
	}
	if d.apiServer != nil {
		if err := d.apiServer.start(d.ctx); err != nil {
			d.engine.Stop()
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("vigil daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops the engine and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.apiServer != nil {
		d.apiServer.stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.engine.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("vigil daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Ingest admits one signal into the engine.
func (d *Daemon) Ingest(ctx context.Context, sig signals.Signal) error {
	return d.engine.Ingest(ctx, sig)
}

// ListCases returns case views, optionally filtered by status.
func (d *Daemon) ListCases(ctx context.Context, status string) ([]api.Case, error) {
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		cases, err := d.store.ListCases(ctx)
		if err != nil {
			return nil, err
		}
		return api.FromCases(cases), nil
	}
	parsed, ok := crisis.ParseCaseStatus(trimmed)
	if !ok {
		return nil, fmt.Errorf("unknown case status %q", trimmed)
	}
	cases, err := d.store.ListCases(ctx, parsed)
	if err != nil {
		return nil, err
	}
	return api.FromCases(cases), nil
}

// CaseForUser returns the user's open case with its attempts and the latest
// risk snapshot. A nil detail means the user has no open case.
func (d *Daemon) CaseForUser(ctx context.Context, userID string) (*api.CaseDetail, error) {
	c, err := d.store.OpenCaseForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return d.caseDetail(ctx, c)
}

// CaseByID returns a case (open or closed) with its attempts.
func (d *Daemon) CaseByID(ctx context.Context, caseID string) (*api.CaseDetail, error) {
	c, err := d.store.CaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return d.caseDetail(ctx, c)
}

func (d *Daemon) caseDetail(ctx context.Context, c *crisis.Case) (*api.CaseDetail, error) {
	detail := &api.CaseDetail{Case: api.FromCase(c)}
	attempts, err := d.store.AttemptsForCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	detail.Attempts = api.FromAttempts(attempts)
	snapshot, err := d.store.RiskSnapshotForUser(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	detail.Risk = api.FromRiskSnapshot(snapshot)
	return detail, nil
}

// Acknowledge records a human acknowledgement of a case.
func (d *Daemon) Acknowledge(ctx context.Context, caseID, actor string) (*api.AcknowledgeResponse, error) {
	c, err := d.engine.Machine().Acknowledge(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}
	return &api.AcknowledgeResponse{
		Case:     api.FromCase(c),
		Resolved: c.Status == crisis.CaseResolved,
	}, nil
}

// PlanGet returns a user's safety plan, or nil when none exists.
func (d *Daemon) PlanGet(ctx context.Context, userID string) (*api.SafetyPlan, error) {
	plan, err := d.store.SafetyPlanForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}
	view := api.FromSafetyPlan(plan)
	return &view, nil
}

// PlanSet upserts a user's safety plan. Open cases keep the snapshot taken
// when they were opened.
func (d *Daemon) PlanSet(ctx context.Context, userID string, req api.SafetyPlanRequest) (*api.SafetyPlan, error) {
	plan, err := d.store.UpsertSafetyPlan(ctx, api.ToSafetyPlan(userID, req), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	view := api.FromSafetyPlan(plan)
	return &view, nil
}

// AuditExport returns the audit trail for a user or a case.
func (d *Daemon) AuditExport(ctx context.Context, userID, caseID string, limit int) ([]api.AuditRecord, error) {
	switch {
	case strings.TrimSpace(caseID) != "":
		records, err := d.store.AuditForCase(ctx, caseID, limit)
		if err != nil {
			return nil, err
		}
		return api.FromAuditRecords(records), nil
	case strings.TrimSpace(userID) != "":
		records, err := d.store.AuditForUser(ctx, userID, limit)
		if err != nil {
			return nil, err
		}
		return api.FromAuditRecords(records), nil
	default:
		return nil, errors.New("audit export requires a user_id or case_id")
	}
}

// DatabaseHealth returns detailed store diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (crisis.DatabaseHealth, error) {
	if d.store == nil {
		return crisis.DatabaseHealth{}, errors.New("case store unavailable")
	}
	return d.store.CheckHealth(ctx)
}

// TestNotification pushes a test alert through the operator channel.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Operators.AlertURL) == "" {
		return false, "operator alert url not configured", nil
	}
	if err := d.engine.Operators().TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Reload re-reads the config file and applies the new risk parameters and
// ladder policy without restarting the engine.
func (d *Daemon) Reload(ctx context.Context) error {
	cfg, _, _, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	if err := d.engine.ApplyConfig(cfg); err != nil {
		return err
	}
	d.cfg = cfg
	d.logger.Info("configuration reloaded",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.String("path", d.configPath))
	return nil
}

// LogStream exposes the in-memory log hub.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logHub }

// LogArchive exposes the on-disk event journal.
func (d *Daemon) LogArchive() *logging.EventArchive { return d.logArchive }

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string { return d.logPath }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Engine:       d.engine.Status(ctx),
	}
}
