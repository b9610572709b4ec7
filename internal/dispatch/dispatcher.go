package dispatch

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"vigil/internal/clock"
	"vigil/internal/config"
	"vigil/internal/crisis"
	"vigil/internal/logging"
	"vigil/internal/notify"
	"vigil/internal/services"
)

// EscalateFunc forces a case one tier up after conclusive delivery failure.
type EscalateFunc func(ctx context.Context, caseID, reason string)

// Options sizes the delivery pool and its retry schedule.
type Options struct {
	Workers       int
	QueueCapacity int
	RetryBase     time.Duration
	RetryFactor   int
	MaxAttempts   int
	SendTimeout   time.Duration
	PollInterval  time.Duration
}

// OptionsFromConfig derives pool options from validated config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:       cfg.Dispatch.Workers,
		QueueCapacity: cfg.Dispatch.QueueCapacity,
		RetryBase:     time.Duration(cfg.Dispatch.RetryBaseSeconds) * time.Second,
		RetryFactor:   cfg.Dispatch.RetryFactor,
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		SendTimeout:   time.Duration(cfg.Dispatch.SendTimeoutSeconds) * time.Second,
		PollInterval:  5 * time.Second,
	}
}

// Dispatcher executes intervention commands against external channels. It is
// the engine's only slow path: delivery runs on its own bounded worker pool
// so channel latency never blocks the per-user serialization point.
type Dispatcher struct {
	opts     Options
	store    *crisis.Store
	registry *notify.Registry
	alerts   notify.OperatorNotifier
	escalate EscalateFunc
	clk      clock.Clock
	logger   *slog.Logger

	queue *taskQueue
	wake  chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher builds the delivery pool.
func NewDispatcher(opts Options, store *crisis.Store, registry *notify.Registry, alerts notify.OperatorNotifier, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryFactor < 1 {
		opts.RetryFactor = 1
	}
	return &Dispatcher{
		opts:     opts,
		store:    store,
		registry: registry,
		alerts:   alerts,
		clk:      clk,
		logger:   logging.NewComponentLogger(logger, "dispatch"),
		queue:    newTaskQueue(opts.QueueCapacity),
		wake:     make(chan struct{}, 1),
	}
}

// SetEscalate wires the forced-escalation callback. Must be set before Start.
func (d *Dispatcher) SetEscalate(escalate EscalateFunc) {
	d.escalate = escalate
}

// Start launches the delivery workers and the retry poller.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.runWorker(runCtx, i)
	}
	d.wg.Add(1)
	go d.runPoller(runCtx)
}

// Stop drains the pool. In-flight sends finish; queued work stays persisted
// as PENDING attempts and is re-polled on the next start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

// QueueDepth reports current in-memory backlog, for status output.
func (d *Dispatcher) QueueDepth() int {
	return d.queue.len()
}

// Dispatch expands a tier command into per-target attempts and enqueues them.
// Fire-and-forget from the state machine's perspective: errors are logged and
// audited, never returned to the hot path. Duplicate commands for a tier with
// an outstanding attempt are no-ops.
func (d *Dispatcher) Dispatch(ctx context.Context, c *crisis.Case, tier crisis.Tier, reason string) {
	if c == nil {
		return
	}
	now := d.clk.Now().UTC()

	for _, target := range targetsFor(c, tier) {
		existing, err := d.store.ActiveAttempt(ctx, c.ID, tier, target.address)
		if err != nil {
			logging.ErrorWithContext(d.logger, "idempotency lookup failed", "dispatch_lookup_failed",
				logging.String(logging.FieldCaseID, c.ID),
				logging.Error(err))
			continue
		}
		if existing != nil {
			continue
		}

		attempt, err := d.store.CreateAttempt(ctx, c.ID, tier, target.channel, target.address, now)
		if err != nil {
			logging.ErrorWithContext(d.logger, "attempt creation failed", "dispatch_create_failed",
				logging.String(logging.FieldCaseID, c.ID),
				logging.Error(err))
			continue
		}

		d.enqueue(ctx, task{
			attemptID: attempt.ID,
			caseID:    c.ID,
			userID:    c.UserID,
			tier:      tier,
			reason:    reason,
			enqueued:  now,
		})
	}
}

type dispatchTarget struct {
	channel string
	address string
}

// targetsFor selects delivery targets from the case's snapshotted plan.
func targetsFor(c *crisis.Case, tier crisis.Tier) []dispatchTarget {
	plan := c.PlanSnapshot
	switch tier {
	case crisis.TierMonitor:
		if plan != nil && len(plan.PreferredResources) > 0 {
			targets := make([]dispatchTarget, 0, len(plan.PreferredResources))
			for _, resource := range plan.PreferredResources {
				targets = append(targets, dispatchTarget{channel: notify.ChannelPush, address: resource})
			}
			return targets
		}
		return []dispatchTarget{{channel: notify.ChannelPush, address: "self-help"}}
	case crisis.TierCounselor:
		return []dispatchTarget{{channel: notify.ChannelCounselor, address: "crisis-counselor-queue"}}
	case crisis.TierEmergencyContact:
		if plan != nil && len(plan.TrustedContacts) > 0 {
			targets := make([]dispatchTarget, 0, len(plan.TrustedContacts))
			for _, contact := range plan.TrustedContacts {
				channel := strings.ToLower(strings.TrimSpace(contact.Channel))
				if channel == "" {
					channel = notify.ChannelSMS
				}
				targets = append(targets, dispatchTarget{channel: channel, address: contact.Address})
			}
			return targets
		}
		// No trusted contacts on file: the tier cannot do its job, so route
		// straight at the emergency path rather than pretending to notify.
		return []dispatchTarget{{channel: notify.ChannelEmergency, address: "emergency-services"}}
	case crisis.TierEmergencyServices:
		return []dispatchTarget{{channel: notify.ChannelEmergency, address: "emergency-services"}}
	default:
		return nil
	}
}

// enqueue adds a task, shedding the oldest non-emergency work when full.
func (d *Dispatcher) enqueue(ctx context.Context, t task) {
	displaced, accepted := d.queue.push(t)
	if displaced != nil {
		d.deferAttempt(ctx, displaced.attemptID, displaced.userID, "displaced by newer dispatch under backpressure")
	}
	if !accepted {
		// Queue is saturated with emergency work; this task rides the retry
		// poller instead of displacing anything.
		d.deferAttempt(ctx, t.attemptID, t.userID, "delivery queue full")
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// deferAttempt reschedules a pending attempt without consuming a retry.
func (d *Dispatcher) deferAttempt(ctx context.Context, attemptID, userID, why string) {
	now := d.clk.Now().UTC()
	attempt, err := d.store.AttemptByID(ctx, attemptID)
	if err != nil || attempt == nil || attempt.Status != crisis.AttemptPending {
		return
	}
	next := now.Add(d.opts.RetryBase)
	attempt.NextAttemptAt = &next
	attempt.LeasedAt = nil
	if err := d.store.UpdateAttempt(ctx, attempt); err != nil {
		logging.ErrorWithContext(d.logger, "attempt deferral failed", "dispatch_defer_failed",
			logging.String(logging.FieldAttemptID, attemptID),
			logging.Error(err))
		return
	}
	payload := map[string]any{
		"status":     "deferred",
		"reason":     why,
		"channel":    attempt.Channel,
		"target":     attempt.Target,
		"next_retry": next.Format(time.RFC3339),
	}
	if _, err := d.store.AppendAudit(ctx, userID, attempt.CaseID, crisis.AuditInterventionResult, payload, now); err != nil {
		logging.ErrorWithContext(d.logger, "deferral audit failed", "audit_append_failed",
			logging.String(logging.FieldAttemptID, attemptID),
			logging.Error(err))
	}
	logging.WarnWithContext(d.logger, "delivery deferred under backpressure", "dispatch_deferred",
		logging.String(logging.FieldAttemptID, attemptID),
		logging.String(logging.FieldCaseID, attempt.CaseID),
		logging.String(logging.FieldImpact, "notification delayed by one retry interval"))
}

func (d *Dispatcher) runWorker(ctx context.Context, index int) {
	defer d.wg.Done()
	logger := d.logger.With(logging.Int(logging.FieldWorker, index))
	for {
		t, ok := d.queue.pop()
		if ok {
			d.process(ctx, logger, t)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
	}
}

// runPoller re-enqueues persisted attempts whose retry time has come. It is
// also the crash-recovery path: attempts left PENDING by a previous process
// become due and flow back through here.
func (d *Dispatcher) runPoller(ctx context.Context) {
	defer d.wg.Done()
	interval := d.opts.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.PollDue(ctx); err != nil && ctx.Err() == nil {
				logging.ErrorWithContext(d.logger, "retry poll failed", "dispatch_poll_failed", logging.Error(err))
			}
		}
	}
}

// PollDue scans for schedulable attempts and enqueues them.
func (d *Dispatcher) PollDue(ctx context.Context) error {
	now := d.clk.Now().UTC()
	due, err := d.store.DueAttempts(ctx, now, d.opts.QueueCapacity)
	if err != nil {
		return err
	}
	for _, attempt := range due {
		c, err := d.store.CaseByID(ctx, attempt.CaseID)
		if err != nil || c == nil {
			continue
		}
		d.enqueue(ctx, task{
			attemptID: attempt.ID,
			caseID:    attempt.CaseID,
			userID:    c.UserID,
			tier:      attempt.Tier,
			enqueued:  now,
		})
	}
	return nil
}

// process leases and executes one delivery attempt.
func (d *Dispatcher) process(ctx context.Context, logger *slog.Logger, t task) {
	now := d.clk.Now().UTC()

	attempt, err := d.store.AttemptByID(ctx, t.attemptID)
	if err != nil || attempt == nil || attempt.Status != crisis.AttemptPending {
		return
	}
	leased, err := d.store.LeaseAttempt(ctx, attempt.ID, now)
	if err != nil || !leased {
		return
	}

	attempt.AttemptCount++
	attempt.LastAttemptedAt = &now
	attempt.NextAttemptAt = nil
	leaseTime := now
	attempt.LeasedAt = &leaseTime
	if err := d.store.UpdateAttempt(ctx, attempt); err != nil {
		logging.ErrorWithContext(logger, "attempt update failed", "dispatch_update_failed",
			logging.String(logging.FieldAttemptID, attempt.ID),
			logging.Error(err))
		return
	}

	payload := map[string]any{
		"channel":       attempt.Channel,
		"target":        attempt.Target,
		"tier":          attempt.Tier.String(),
		"attempt_count": attempt.AttemptCount,
	}
	if _, err := d.store.AppendAudit(ctx, t.userID, attempt.CaseID, crisis.AuditInterventionAttempted, payload, now); err != nil {
		logging.ErrorWithContext(logger, "attempt audit failed", "audit_append_failed",
			logging.String(logging.FieldAttemptID, attempt.ID),
			logging.Error(err))
	}

	result, sendErr := d.send(ctx, attempt, t)

	if sendErr == nil {
		attempt.Status = crisis.AttemptSent
		attempt.ProviderRef = result.ProviderRef
		attempt.LastError = ""
		attempt.LeasedAt = nil
		if err := d.store.UpdateAttempt(ctx, attempt); err != nil {
			logging.ErrorWithContext(logger, "attempt update failed", "dispatch_update_failed",
				logging.String(logging.FieldAttemptID, attempt.ID),
				logging.Error(err))
			return
		}
		d.auditResult(ctx, t.userID, attempt, "sent", "")
		logger.Info("intervention delivered",
			logging.String(logging.FieldAttemptID, attempt.ID),
			logging.String(logging.FieldCaseID, attempt.CaseID),
			logging.String(logging.FieldChannel, attempt.Channel),
			logging.String(logging.FieldTier, attempt.Tier.String()))
		return
	}

	retryable := services.ShouldRetryDispatch(sendErr) && attempt.AttemptCount < d.opts.MaxAttempts
	if retryable {
		next := now.Add(d.backoff(attempt.AttemptCount))
		attempt.NextAttemptAt = &next
		attempt.LastError = sendErr.Error()
		attempt.LeasedAt = nil
		if err := d.store.UpdateAttempt(ctx, attempt); err != nil {
			logging.ErrorWithContext(logger, "attempt update failed", "dispatch_update_failed",
				logging.String(logging.FieldAttemptID, attempt.ID),
				logging.Error(err))
			return
		}
		logging.WarnWithContext(logger, "delivery failed, will retry", "dispatch_retry",
			logging.String(logging.FieldAttemptID, attempt.ID),
			logging.String(logging.FieldCaseID, attempt.CaseID),
			logging.String(logging.FieldChannel, attempt.Channel),
			logging.Int("attempt_count", attempt.AttemptCount),
			logging.String(logging.FieldImpact, "notification delayed until next retry"),
			logging.Error(sendErr))
		return
	}

	d.fail(ctx, logger, t, attempt, sendErr)
}

// send resolves the channel adapter and executes the delivery call under the
// configured deadline. An unconfigured channel is a permanent failure: a tier
// that cannot notify must not pretend it did.
func (d *Dispatcher) send(ctx context.Context, attempt *crisis.InterventionAttempt, t task) (notify.SendResult, error) {
	channel, ok := d.registry.Channel(attempt.Channel)
	if !ok {
		return notify.SendResult{}, services.Wrap(services.ErrPermanentDispatch, "dispatch", "send",
			"channel "+attempt.Channel+" not configured", nil)
	}

	c, err := d.store.CaseByID(ctx, attempt.CaseID)
	if err != nil {
		return notify.SendResult{}, services.Wrap(services.ErrTransientDispatch, "dispatch", "send", "load case", err)
	}
	msg := notify.ComposeIntervention(c, attempt.Tier, t.reason)

	sendCtx := ctx
	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
	}
	return channel.Send(sendCtx, attempt.Target, msg)
}

// fail marks the attempt FAILED, audits the terminal outcome, and forces the
// case one tier up. A failed notification is itself an escalation trigger;
// the case never goes silent because a channel did.
func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, t task, attempt *crisis.InterventionAttempt, sendErr error) {
	attempt.Status = crisis.AttemptFailed
	attempt.LastError = sendErr.Error()
	attempt.NextAttemptAt = nil
	attempt.LeasedAt = nil
	if err := d.store.UpdateAttempt(ctx, attempt); err != nil {
		logging.ErrorWithContext(logger, "attempt update failed", "dispatch_update_failed",
			logging.String(logging.FieldAttemptID, attempt.ID),
			logging.Error(err))
		return
	}
	d.auditResult(ctx, t.userID, attempt, "failed", sendErr.Error())

	logging.ErrorWithContext(logger, "delivery conclusively failed", "dispatch_failed",
		logging.String(logging.FieldAttemptID, attempt.ID),
		logging.String(logging.FieldCaseID, attempt.CaseID),
		logging.String(logging.FieldChannel, attempt.Channel),
		logging.Int("attempt_count", attempt.AttemptCount),
		logging.Error(sendErr))

	if d.alerts != nil {
		_ = d.alerts.AlertDispatchExhausted(ctx, attempt.CaseID, attempt.Channel, attempt.Target)
	}
	if d.escalate != nil {
		d.escalate(ctx, attempt.CaseID, "intervention delivery failed on channel "+attempt.Channel)
	}
}

func (d *Dispatcher) auditResult(ctx context.Context, userID string, attempt *crisis.InterventionAttempt, status, detail string) {
	now := d.clk.Now().UTC()
	payload := map[string]any{
		"status":        status,
		"channel":       attempt.Channel,
		"target":        attempt.Target,
		"tier":          attempt.Tier.String(),
		"attempt_count": attempt.AttemptCount,
	}
	if attempt.ProviderRef != "" {
		payload["provider_ref"] = attempt.ProviderRef
	}
	if detail != "" {
		payload["error"] = detail
	}
	if _, err := d.store.AppendAudit(ctx, userID, attempt.CaseID, crisis.AuditInterventionResult, payload, now); err != nil {
		logging.ErrorWithContext(d.logger, "result audit failed", "audit_append_failed",
			logging.String(logging.FieldAttemptID, attempt.ID),
			logging.Error(err))
	}
}

// backoff returns the delay before retry n+1: base * factor^(n-1).
func (d *Dispatcher) backoff(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	multiplier := math.Pow(float64(d.opts.RetryFactor), float64(attemptCount-1))
	return time.Duration(float64(d.opts.RetryBase) * multiplier)
}
