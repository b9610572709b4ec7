package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/clock"
	"vigil/internal/crisis"
	"vigil/internal/logging"
	"vigil/internal/risk"
	"vigil/internal/services"
)

// DispatchFunc hands an intervention command to the dispatcher. The machine
// fires and forgets; delivery, retries, and failure escalation live on the
// other side of this boundary.
type DispatchFunc func(ctx context.Context, c *crisis.Case, tier crisis.Tier, reason string)

// Alerts is the slice of operator paging the machine needs.
type Alerts interface {
	AlertStateCorruption(ctx context.Context, userID, caseID, detail string) error
	AlertMandatoryReview(ctx context.Context, userID, caseID, reason string) error
	AlertForcedEscalation(ctx context.Context, caseID string, tier crisis.Tier, reason string) error
}

// Machine drives per-user escalation cases along the tier ladder. Per-user
// serialization is the engine's job: all evaluations and ticks for one user
// arrive on the same worker, so no transition is ever computed from a stale
// case snapshot.
type Machine struct {
	store  *crisis.Store
	clk    clock.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	policy Policy

	dispatch DispatchFunc
	alerts   Alerts
}

// NewMachine builds the escalation state machine.
func NewMachine(policy Policy, store *crisis.Store, clk clock.Clock, logger *slog.Logger) *Machine {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Machine{
		store:  store,
		clk:    clk,
		logger: logging.NewComponentLogger(logger, "escalation"),
		policy: policy,
	}
}

// SetDispatch wires the intervention dispatcher. Must be called before Start;
// the machine and dispatcher reference each other through narrow functions to
// keep the packages independent.
func (m *Machine) SetDispatch(dispatch DispatchFunc) {
	m.dispatch = dispatch
}

// SetAlerts wires operator paging.
func (m *Machine) SetAlerts(alerts Alerts) {
	m.alerts = alerts
}

// SetPolicy swaps the ladder policy between processing ticks.
func (m *Machine) SetPolicy(policy Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
}

// Policy returns the active ladder policy.
func (m *Machine) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// Evaluate applies one risk update to the user's case: opens a case at the
// first MONITOR crossing, advances at most one tier per update, and tracks
// the sustained-below-exit streak that gates de-escalation.
func (m *Machine) Evaluate(ctx context.Context, update risk.Update) (*crisis.Case, error) {
	policy := m.Policy()
	now := m.clk.Now().UTC()

	c, err := m.store.OpenCaseForUser(ctx, update.UserID)
	if err != nil {
		return nil, err
	}

	if c == nil {
		entry := policy.Entry[crisis.TierMonitor]
		if update.Composite < entry {
			return nil, nil
		}
		return m.openCase(ctx, update, now)
	}

	if c.Status != crisis.CaseOpen {
		return c, nil
	}
	if err := m.verifyCase(ctx, c, now); err != nil {
		return c, err
	}

	// Advance on score. One tier per update; a score that would justify two
	// tiers reaches them across consecutive updates.
	if c.Tier < crisis.TierEmergencyServices {
		next := c.Tier.Next()
		if entry, ok := policy.Entry[next]; ok && update.Composite >= entry {
			if err := m.transition(ctx, c, next, "entry threshold crossed", update.Composite, now); err != nil {
				return c, err
			}
			return c, nil
		}
	}

	exit, hasExit := policy.Exit[c.Tier]
	if !hasExit || update.Composite >= exit {
		if c.BelowExitSince != nil {
			c.BelowExitSince = nil
			if err := m.store.UpdateCase(ctx, c); err != nil {
				return c, err
			}
		}
		return c, nil
	}

	if c.BelowExitSince == nil {
		c.BelowExitSince = &now
		if err := m.store.UpdateCase(ctx, c); err != nil {
			return c, err
		}
		return c, nil
	}

	if now.Sub(*c.BelowExitSince) >= policy.DeescalationWindow && c.Tier > crisis.TierMonitor {
		if err := m.transition(ctx, c, c.Tier.Prev(), "sustained score below exit threshold", update.Composite, now); err != nil {
			return c, err
		}
	}
	// At MONITOR the sustained streak stays recorded: it makes the case
	// eligible for resolution on acknowledgement instead of closing silently.
	return c, nil
}

// Tick runs timer-driven transitions for every open case the worker owns:
// dwell-timeout forced escalation, quiet-period de-escalation, and the
// maximum-lifetime review flag.
func (m *Machine) Tick(ctx context.Context, owns func(userID string) bool) error {
	policy := m.Policy()
	now := m.clk.Now().UTC()

	cases, err := m.store.OpenCases(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, c := range cases {
		if owns != nil && !owns(c.UserID) {
			continue
		}
		if err := m.tickCase(ctx, c, policy, now); err != nil {
			// Per-case isolation: one corrupt or failing case never blocks
			// the rest of the sweep.
			if firstErr == nil {
				firstErr = err
			}
			logging.ErrorWithContext(m.logger, "case tick failed", "case_tick_failed",
				logging.String(logging.FieldCaseID, c.ID),
				logging.String(logging.FieldUserID, c.UserID),
				logging.Error(err))
		}
	}
	return firstErr
}

func (m *Machine) tickCase(ctx context.Context, c *crisis.Case, policy Policy, now time.Time) error {
	if err := m.verifyCase(ctx, c, now); err != nil {
		return err
	}

	if policy.MaxCaseLifetime > 0 && !c.NeedsReview && now.Sub(c.OpenedAt) >= policy.MaxCaseLifetime {
		c.NeedsReview = true
		c.ReviewReason = "maximum case lifetime exceeded"
		if err := m.store.UpdateCase(ctx, c); err != nil {
			return err
		}
		logging.WarnWithContext(m.logger, "case exceeded maximum lifetime", "case_lifetime_exceeded",
			logging.String(logging.FieldCaseID, c.ID),
			logging.String(logging.FieldUserID, c.UserID),
			logging.String("error_hint", "case requires human review and explicit closure"),
			logging.String("impact", "case stays open until a human acknowledges"))
		if m.alerts != nil {
			_ = m.alerts.AlertMandatoryReview(ctx, c.UserID, c.ID, c.ReviewReason)
		}
	}

	// Dwell-timeout forced escalation: a stalled, unacknowledged case cannot
	// sit in a tier forever.
	if dwell, ok := policy.MaxDwell[c.Tier]; ok && !c.Acknowledged && now.Sub(c.TierEnteredAt) >= dwell && c.Tier < crisis.TierEmergencyServices {
		score := m.lastComposite(ctx, c.UserID)
		return m.transition(ctx, c, c.Tier.Next(), "maximum dwell time exceeded", score, now)
	}

	// Quiet-period de-escalation: with no fresh signals the score only
	// decays, so a streak started by the last update can complete on the
	// timer. The persisted composite is the streak's upper bound.
	if exit, ok := policy.Exit[c.Tier]; ok && c.BelowExitSince != nil && c.Tier > crisis.TierMonitor {
		if now.Sub(*c.BelowExitSince) >= policy.DeescalationWindow {
			score := m.lastComposite(ctx, c.UserID)
			if score < exit {
				return m.transition(ctx, c, c.Tier.Prev(), "sustained score below exit threshold", score, now)
			}
		}
	}

	return nil
}

// ForceAdvance escalates a case one tier regardless of score. The dispatcher
// invokes this when delivery to a tier's targets has conclusively failed: an
// unreachable emergency contact must never be the end of the line.
func (m *Machine) ForceAdvance(ctx context.Context, caseID, reason string) (*crisis.Case, error) {
	now := m.clk.Now().UTC()
	c, err := m.store.CaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, services.Wrap(services.ErrNotFound, "escalation", "force advance", fmt.Sprintf("case %s", caseID), nil)
	}
	if c.Status != crisis.CaseOpen || c.Tier >= crisis.TierEmergencyServices {
		return c, nil
	}

	score := m.lastComposite(ctx, c.UserID)
	if err := m.transition(ctx, c, c.Tier.Next(), reason, score, now); err != nil {
		return c, err
	}
	if m.alerts != nil {
		_ = m.alerts.AlertForcedEscalation(ctx, c.ID, c.Tier, reason)
	}
	return c, nil
}

// Acknowledge records a human acknowledgement. It is the only path to
// RESOLVED: the case resolves when risk has verifiably subsided or when the
// case was already flagged for mandatory review; otherwise the ack is
// recorded and the episode stays open.
func (m *Machine) Acknowledge(ctx context.Context, caseID, actor string) (*crisis.Case, error) {
	now := m.clk.Now().UTC()
	policy := m.Policy()

	c, err := m.store.CaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, services.Wrap(services.ErrNotFound, "escalation", "acknowledge", fmt.Sprintf("case %s", caseID), nil)
	}
	if c.Status == crisis.CaseResolved {
		return c, nil
	}

	c.Acknowledged = true
	c.AckBy = actor
	c.AckAt = &now

	subsided := c.BelowExitSince != nil && now.Sub(*c.BelowExitSince) >= policy.DeescalationWindow
	resolve := subsided || c.NeedsReview || c.Status == crisis.CaseFrozen

	if resolve {
		c.Status = crisis.CaseResolved
		c.TierHistory = append(c.TierHistory, crisis.TierChange{Tier: c.Tier, At: now, Reason: "resolved by " + actor})
	}
	if err := m.store.UpdateCase(ctx, c); err != nil {
		return c, err
	}

	if _, err := m.store.MarkAttemptsAcked(ctx, c.ID, now); err != nil {
		return c, err
	}

	payload := map[string]any{
		"action":   "acknowledged",
		"actor":    actor,
		"tier":     c.Tier.String(),
		"resolved": resolve,
	}
	if _, err := m.store.AppendAudit(ctx, c.UserID, c.ID, crisis.AuditTierTransition, payload, now); err != nil {
		return c, err
	}

	m.logger.Info("case acknowledged",
		logging.String(logging.FieldCaseID, c.ID),
		logging.String(logging.FieldUserID, c.UserID),
		logging.String("actor", actor),
		logging.Bool("resolved", resolve))
	return c, nil
}

func (m *Machine) openCase(ctx context.Context, update risk.Update, now time.Time) (*crisis.Case, error) {
	// Snapshot the live safety plan into the case so a mid-episode plan edit
	// never changes who gets contacted.
	plan, err := m.store.SafetyPlanForUser(ctx, update.UserID)
	if err != nil {
		return nil, err
	}
	c, err := m.store.CreateCase(ctx, update.UserID, crisis.TierMonitor, plan, now)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"from":   crisis.TierNone.String(),
		"to":     crisis.TierMonitor.String(),
		"reason": "entry threshold crossed",
		"score":  update.Composite,
	}
	if _, err := m.store.AppendAudit(ctx, c.UserID, c.ID, crisis.AuditTierTransition, payload, now); err != nil {
		return c, err
	}

	m.logger.Info("case opened",
		logging.String(logging.FieldCaseID, c.ID),
		logging.String(logging.FieldUserID, c.UserID),
		logging.Float64(logging.FieldScore, update.Composite),
		logging.String(logging.FieldTier, c.Tier.String()))

	if m.dispatch != nil {
		m.dispatch(ctx, c, c.Tier, "case opened")
	}
	return c, nil
}

// transition moves a case exactly one tier and emits the audit record and
// intervention command the move requires.
func (m *Machine) transition(ctx context.Context, c *crisis.Case, to crisis.Tier, reason string, score float64, now time.Time) error {
	from := c.Tier
	if to != from.Next() && to != from.Prev() {
		return m.freezeCase(ctx, c, fmt.Sprintf("transition from %s to %s skips tiers", from, to), now)
	}

	c.Tier = to
	c.TierEnteredAt = now
	c.BelowExitSince = nil
	c.TierHistory = append(c.TierHistory, crisis.TierChange{Tier: to, At: now, Reason: reason})
	if err := m.store.UpdateCase(ctx, c); err != nil {
		return err
	}

	payload := map[string]any{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
		"score":  score,
	}
	if _, err := m.store.AppendAudit(ctx, c.UserID, c.ID, crisis.AuditTierTransition, payload, now); err != nil {
		return err
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldCaseID, c.ID),
		logging.String(logging.FieldUserID, c.UserID),
		logging.String(logging.FieldTier, to.String()),
		logging.String("from", from.String()),
		logging.Float64(logging.FieldScore, score),
	}
	attrs = append(attrs, logging.DecisionAttrs("tier_transition", to.String(), reason)...)
	m.logger.Info("tier transition", logging.Args(attrs...)...)

	if m.dispatch != nil {
		m.dispatch(ctx, c, to, reason)
	}
	return nil
}

// verifyCase checks ladder invariants before acting on a case. A violation
// freezes the case for mandatory review and pages operators; processing for
// other users continues untouched.
func (m *Machine) verifyCase(ctx context.Context, c *crisis.Case, now time.Time) error {
	detail := ""
	if len(c.TierHistory) == 0 {
		detail = "case has no tier history"
	} else if last := c.TierHistory[len(c.TierHistory)-1]; last.Tier != c.Tier && c.Status == crisis.CaseOpen {
		detail = fmt.Sprintf("case tier %s disagrees with history tail %s", c.Tier, last.Tier)
	}
	if detail == "" {
		count, err := m.store.OpenCaseCountForUser(ctx, c.UserID)
		if err != nil {
			return err
		}
		if count > 1 {
			detail = fmt.Sprintf("user has %d concurrent open cases", count)
		}
	}
	if detail == "" {
		return nil
	}
	return m.freezeCase(ctx, c, detail, now)
}

func (m *Machine) freezeCase(ctx context.Context, c *crisis.Case, detail string, now time.Time) error {
	c.Status = crisis.CaseFrozen
	c.NeedsReview = true
	c.ReviewReason = detail
	if err := m.store.UpdateCase(ctx, c); err != nil {
		return err
	}
	logging.ErrorWithContext(m.logger, "case frozen on invariant violation", "state_corruption",
		logging.String(logging.FieldCaseID, c.ID),
		logging.String(logging.FieldUserID, c.UserID),
		logging.String("detail", detail),
		logging.Alert("state_corruption"))
	if m.alerts != nil {
		_ = m.alerts.AlertStateCorruption(ctx, c.UserID, c.ID, detail)
	}
	return services.Wrap(services.ErrStateCorruption, "escalation", "verify case", detail, nil)
}

// lastComposite reads the persisted composite for a user; absent state reads
// as zero risk.
func (m *Machine) lastComposite(ctx context.Context, userID string) float64 {
	snapshot, err := m.store.RiskSnapshotForUser(ctx, userID)
	if err != nil || snapshot == nil {
		return 0
	}
	return snapshot.Composite
}
