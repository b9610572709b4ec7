package dispatch

import (
	"context"
	"testing"
	"time"

	"vigil/internal/clock"
	"vigil/internal/crisis"
	"vigil/internal/notify"
	"vigil/internal/services"
	"vigil/internal/testsupport"
)

type fakeChannel struct {
	calls   int
	respond func(call int) (notify.SendResult, error)
}

func (f *fakeChannel) Send(_ context.Context, _ string, _ notify.Message) (notify.SendResult, error) {
	f.calls++
	return f.respond(f.calls)
}

func alwaysSend(ref string) *fakeChannel {
	return &fakeChannel{respond: func(int) (notify.SendResult, error) {
		return notify.SendResult{Status: "sent", ProviderRef: ref}, nil
	}}
}

func alwaysFail(marker error) *fakeChannel {
	return &fakeChannel{respond: func(int) (notify.SendResult, error) {
		return notify.SendResult{}, services.Wrap(marker, "test", "send", "scripted failure", nil)
	}}
}

type fakeAlerts struct {
	exhausted int
}

func (f *fakeAlerts) AlertStateCorruption(context.Context, string, string, string) error { return nil }
func (f *fakeAlerts) AlertMandatoryReview(context.Context, string, string, string) error { return nil }
func (f *fakeAlerts) AlertForcedEscalation(context.Context, string, crisis.Tier, string) error {
	return nil
}
func (f *fakeAlerts) AlertDispatchExhausted(context.Context, string, string, string) error {
	f.exhausted++
	return nil
}
func (f *fakeAlerts) TestNotification(context.Context) error { return nil }

type escalateCall struct {
	caseID string
	reason string
}

type dispatchEnv struct {
	dispatcher *Dispatcher
	store      *crisis.Store
	clk        *clock.Manual
	alerts     *fakeAlerts
	escalated  []escalateCall
}

func testOptions() Options {
	return Options{
		Workers:       1,
		QueueCapacity: 16,
		RetryBase:     30 * time.Second,
		RetryFactor:   2,
		MaxAttempts:   5,
		SendTimeout:   0,
	}
}

func newDispatchEnv(t *testing.T, opts Options, channels map[string]notify.Channel) *dispatchEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	alerts := &fakeAlerts{}

	env := &dispatchEnv{
		store:  store,
		clk:    clk,
		alerts: alerts,
	}
	env.dispatcher = NewDispatcher(opts, store, notify.NewRegistryWithChannels(channels), alerts, clk, nil)
	env.dispatcher.SetEscalate(func(_ context.Context, caseID, reason string) {
		env.escalated = append(env.escalated, escalateCall{caseID: caseID, reason: reason})
	})
	return env
}

// drain runs queued tasks synchronously, the way a worker would.
func (e *dispatchEnv) drain(ctx context.Context) {
	for {
		t, ok := e.dispatcher.queue.pop()
		if !ok {
			return
		}
		e.dispatcher.process(ctx, e.dispatcher.logger, t)
	}
}

func (e *dispatchEnv) openCase(t *testing.T, tier crisis.Tier, plan *crisis.SafetyPlan) *crisis.Case {
	t.Helper()
	c, err := e.store.CreateCase(context.Background(), "user-1", tier, plan, e.clk.Now())
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return c
}

func TestDispatchCreatesOneAttemptPerTarget(t *testing.T) {
	env := newDispatchEnv(t, testOptions(), map[string]notify.Channel{
		notify.ChannelSMS:   alwaysSend(""),
		notify.ChannelVoice: alwaysSend(""),
	})
	ctx := context.Background()

	plan := &crisis.SafetyPlan{
		UserID: "user-1",
		TrustedContacts: []crisis.Contact{
			{Name: "Sam", Channel: "sms", Address: "+15550100"},
			{Name: "Kim", Channel: "", Address: "+15550101"},
		},
	}
	c := env.openCase(t, crisis.TierEmergencyContact, plan)

	env.dispatcher.Dispatch(ctx, c, crisis.TierEmergencyContact, "entry threshold crossed")

	attempts, err := env.store.AttemptsForCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want one per contact", len(attempts))
	}
	// A contact without a channel preference falls back to SMS.
	if attempts[1].Channel != notify.ChannelSMS {
		t.Fatalf("fallback channel = %q, want sms", attempts[1].Channel)
	}
	if env.dispatcher.QueueDepth() != 2 {
		t.Fatalf("queue depth = %d, want 2", env.dispatcher.QueueDepth())
	}

	// Repeating the command while attempts are outstanding adds nothing.
	env.dispatcher.Dispatch(ctx, c, crisis.TierEmergencyContact, "entry threshold crossed")
	attempts, err = env.store.AttemptsForCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("duplicate command created attempts: %d", len(attempts))
	}
}

func TestTargetsForTierRouting(t *testing.T) {
	plan := &crisis.SafetyPlan{
		PreferredResources: []string{"breathing-exercise", "crisis-line"},
		TrustedContacts:    []crisis.Contact{{Name: "Sam", Channel: "voice", Address: "+15550100"}},
	}
	withPlan := &crisis.Case{ID: "c1", PlanSnapshot: plan}
	bare := &crisis.Case{ID: "c2"}

	if targets := targetsFor(withPlan, crisis.TierMonitor); len(targets) != 2 || targets[0].channel != notify.ChannelPush {
		t.Fatalf("monitor targets = %+v", targets)
	}
	if targets := targetsFor(bare, crisis.TierMonitor); len(targets) != 1 || targets[0].address != "self-help" {
		t.Fatalf("monitor fallback = %+v", targets)
	}
	if targets := targetsFor(bare, crisis.TierCounselor); len(targets) != 1 || targets[0].channel != notify.ChannelCounselor {
		t.Fatalf("counselor targets = %+v", targets)
	}
	if targets := targetsFor(withPlan, crisis.TierEmergencyContact); len(targets) != 1 || targets[0].channel != "voice" {
		t.Fatalf("emergency contact targets = %+v", targets)
	}
	// No trusted contacts on file routes straight to emergency services.
	if targets := targetsFor(bare, crisis.TierEmergencyContact); len(targets) != 1 || targets[0].channel != notify.ChannelEmergency {
		t.Fatalf("contactless emergency contact targets = %+v", targets)
	}
	if targets := targetsFor(bare, crisis.TierEmergencyServices); len(targets) != 1 || targets[0].channel != notify.ChannelEmergency {
		t.Fatalf("emergency services targets = %+v", targets)
	}
	if targets := targetsFor(bare, crisis.TierNone); targets != nil {
		t.Fatalf("NONE produced targets: %+v", targets)
	}
}

func TestProcessDeliversAndAudits(t *testing.T) {
	channel := alwaysSend("msg-42")
	env := newDispatchEnv(t, testOptions(), map[string]notify.Channel{
		notify.ChannelCounselor: channel,
	})
	ctx := context.Background()

	c := env.openCase(t, crisis.TierCounselor, nil)
	env.dispatcher.Dispatch(ctx, c, crisis.TierCounselor, "entry threshold crossed")
	env.drain(ctx)

	attempts, err := env.store.AttemptsForCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	attempt := attempts[0]
	if attempt.Status != crisis.AttemptSent || attempt.ProviderRef != "msg-42" {
		t.Fatalf("attempt = %+v", attempt)
	}
	if attempt.AttemptCount != 1 || channel.calls != 1 {
		t.Fatalf("attempt count = %d, channel calls = %d", attempt.AttemptCount, channel.calls)
	}

	records, err := env.store.AuditForCase(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("AuditForCase: %v", err)
	}
	var attempted, sent bool
	for _, record := range records {
		switch record.Kind {
		case crisis.AuditInterventionAttempted:
			attempted = true
		case crisis.AuditInterventionResult:
			if record.Payload["status"] == "sent" {
				sent = true
			}
		}
	}
	if !attempted || !sent {
		t.Fatalf("audit trail incomplete: attempted=%v sent=%v", attempted, sent)
	}
}

func TestTransientFailureFollowsBackoffSchedule(t *testing.T) {
	channel := alwaysFail(services.ErrTimeout)
	env := newDispatchEnv(t, testOptions(), map[string]notify.Channel{
		notify.ChannelCounselor: channel,
	})
	ctx := context.Background()

	c := env.openCase(t, crisis.TierCounselor, nil)
	env.dispatcher.Dispatch(ctx, c, crisis.TierCounselor, "entry threshold crossed")

	wantDelays := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second}
	for i, want := range wantDelays {
		env.drain(ctx)

		attempts, err := env.store.AttemptsForCase(ctx, c.ID)
		if err != nil {
			t.Fatalf("AttemptsForCase: %v", err)
		}
		attempt := attempts[0]
		if attempt.Status != crisis.AttemptPending {
			t.Fatalf("retry %d status = %s, want pending", i+1, attempt.Status)
		}
		if attempt.AttemptCount != i+1 {
			t.Fatalf("retry %d count = %d", i+1, attempt.AttemptCount)
		}
		if attempt.NextAttemptAt == nil {
			t.Fatalf("retry %d has no schedule", i+1)
		}
		if got := attempt.NextAttemptAt.Sub(env.clk.Now().UTC()); got != want {
			t.Fatalf("retry %d delay = %s, want %s", i+1, got, want)
		}

		env.clk.Advance(want)
		if err := env.dispatcher.PollDue(ctx); err != nil {
			t.Fatalf("PollDue: %v", err)
		}
	}
}

func TestExhaustedRetriesFailAndForceEscalate(t *testing.T) {
	opts := testOptions()
	opts.MaxAttempts = 3
	channel := alwaysFail(services.ErrTimeout)
	env := newDispatchEnv(t, opts, map[string]notify.Channel{
		notify.ChannelCounselor: channel,
	})
	ctx := context.Background()

	c := env.openCase(t, crisis.TierCounselor, nil)
	env.dispatcher.Dispatch(ctx, c, crisis.TierCounselor, "entry threshold crossed")

	for i := 0; i < opts.MaxAttempts; i++ {
		env.drain(ctx)
		env.clk.Advance(time.Hour)
		if err := env.dispatcher.PollDue(ctx); err != nil {
			t.Fatalf("PollDue: %v", err)
		}
	}

	attempts, err := env.store.AttemptsForCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	attempt := attempts[0]
	if attempt.Status != crisis.AttemptFailed {
		t.Fatalf("status = %s, want failed after %d tries", attempt.Status, opts.MaxAttempts)
	}
	if attempt.AttemptCount != opts.MaxAttempts || channel.calls != opts.MaxAttempts {
		t.Fatalf("attempt count = %d, channel calls = %d", attempt.AttemptCount, channel.calls)
	}
	if env.alerts.exhausted != 1 {
		t.Fatalf("exhausted alerts = %d, want 1", env.alerts.exhausted)
	}
	if len(env.escalated) != 1 || env.escalated[0].caseID != c.ID {
		t.Fatalf("escalations = %+v", env.escalated)
	}
}

func TestUnconfiguredChannelFailsImmediately(t *testing.T) {
	env := newDispatchEnv(t, testOptions(), nil)
	ctx := context.Background()

	c := env.openCase(t, crisis.TierCounselor, nil)
	env.dispatcher.Dispatch(ctx, c, crisis.TierCounselor, "entry threshold crossed")
	env.drain(ctx)

	attempts, err := env.store.AttemptsForCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	attempt := attempts[0]
	if attempt.Status != crisis.AttemptFailed || attempt.AttemptCount != 1 {
		t.Fatalf("attempt = %+v, want immediate permanent failure", attempt)
	}
	if len(env.escalated) != 1 {
		t.Fatalf("escalations = %+v", env.escalated)
	}
}

func TestPermanentFailureSkipsRemainingRetries(t *testing.T) {
	channel := alwaysFail(services.ErrPermanentDispatch)
	env := newDispatchEnv(t, testOptions(), map[string]notify.Channel{
		notify.ChannelSMS: channel,
	})
	ctx := context.Background()

	plan := &crisis.SafetyPlan{
		TrustedContacts: []crisis.Contact{{Name: "Sam", Channel: "sms", Address: "+15550100"}},
	}
	c := env.openCase(t, crisis.TierEmergencyContact, plan)
	env.dispatcher.Dispatch(ctx, c, crisis.TierEmergencyContact, "entry threshold crossed")
	env.drain(ctx)

	attempts, err := env.store.AttemptsForCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	if attempts[0].Status != crisis.AttemptFailed || channel.calls != 1 {
		t.Fatalf("attempt = %+v after %d calls", attempts[0], channel.calls)
	}
}

func TestSaturatedEmergencyQueueDefersNewWork(t *testing.T) {
	opts := testOptions()
	opts.QueueCapacity = 1
	env := newDispatchEnv(t, opts, map[string]notify.Channel{
		notify.ChannelEmergency: alwaysSend(""),
		notify.ChannelPush:      alwaysSend(""),
	})
	ctx := context.Background()

	emergency := env.openCase(t, crisis.TierEmergencyServices, nil)
	env.dispatcher.Dispatch(ctx, emergency, crisis.TierEmergencyServices, "entry threshold crossed")
	if env.dispatcher.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d", env.dispatcher.QueueDepth())
	}

	monitor, err := env.store.CreateCase(ctx, "user-2", crisis.TierMonitor, nil, env.clk.Now())
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	env.dispatcher.Dispatch(ctx, monitor, crisis.TierMonitor, "case opened")

	// The monitor task could not displace emergency work: it is deferred onto
	// the retry schedule instead of queued.
	if env.dispatcher.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d after deferral", env.dispatcher.QueueDepth())
	}
	attempts, err := env.store.AttemptsForCase(ctx, monitor.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	attempt := attempts[0]
	if attempt.Status != crisis.AttemptPending || attempt.NextAttemptAt == nil {
		t.Fatalf("deferred attempt = %+v", attempt)
	}
	if got := attempt.NextAttemptAt.Sub(env.clk.Now().UTC()); got != opts.RetryBase {
		t.Fatalf("deferral delay = %s, want %s", got, opts.RetryBase)
	}

	// The deferred attempt recovers through the poller.
	env.clk.Advance(opts.RetryBase)
	env.drain(ctx)
	if err := env.dispatcher.PollDue(ctx); err != nil {
		t.Fatalf("PollDue: %v", err)
	}
	env.drain(ctx)

	attempts, err = env.store.AttemptsForCase(ctx, monitor.ID)
	if err != nil {
		t.Fatalf("AttemptsForCase: %v", err)
	}
	if attempts[0].Status != crisis.AttemptSent {
		t.Fatalf("recovered attempt = %+v", attempts[0])
	}
}

func TestQueueShedsOldestNonEmergencyFirst(t *testing.T) {
	q := newTaskQueue(2)

	q.push(task{attemptID: "a", tier: crisis.TierMonitor})
	q.push(task{attemptID: "b", tier: crisis.TierCounselor})

	displaced, accepted := q.push(task{attemptID: "c", tier: crisis.TierEmergencyContact})
	if !accepted || displaced == nil || displaced.attemptID != "a" {
		t.Fatalf("displaced = %+v, accepted = %v", displaced, accepted)
	}

	displaced, accepted = q.push(task{attemptID: "d", tier: crisis.TierEmergencyServices})
	if !accepted || displaced == nil || displaced.attemptID != "b" {
		t.Fatalf("displaced = %+v, accepted = %v", displaced, accepted)
	}

	// Only emergency work remains; nothing may be displaced.
	displaced, accepted = q.push(task{attemptID: "e", tier: crisis.TierEmergencyServices})
	if accepted || displaced != nil {
		t.Fatalf("saturated emergency queue accepted more work: %+v, %v", displaced, accepted)
	}

	first, _ := q.pop()
	second, _ := q.pop()
	if first.attemptID != "c" || second.attemptID != "d" {
		t.Fatalf("pop order = %s, %s", first.attemptID, second.attemptID)
	}
}

func TestBackoffSchedule(t *testing.T) {
	d := NewDispatcher(testOptions(), nil, notify.NewRegistryWithChannels(nil), nil, nil, nil)

	want := []time.Duration{30 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second}
	for count, expect := range want {
		if got := d.backoff(count); got != expect {
			t.Fatalf("backoff(%d) = %s, want %s", count, got, expect)
		}
	}
}

func TestCrashRecoveryReclaimsPendingAttempts(t *testing.T) {
	channel := alwaysSend("msg-7")
	env := newDispatchEnv(t, testOptions(), map[string]notify.Channel{
		notify.ChannelCounselor: channel,
	})
	ctx := context.Background()

	c := env.openCase(t, crisis.TierCounselor, nil)
	// Simulate an attempt persisted by a previous process: pending, due, and
	// holding a stale lease.
	attempt, err := env.store.CreateAttempt(ctx, c.ID, crisis.TierCounselor, notify.ChannelCounselor, "crisis-counselor-queue", env.clk.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if leased, err := env.store.LeaseAttempt(ctx, attempt.ID, env.clk.Now().Add(-time.Hour)); err != nil || !leased {
		t.Fatalf("LeaseAttempt: %v (%v)", err, leased)
	}

	if _, err := env.store.ReclaimStaleLeases(ctx, env.clk.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("ReclaimStaleLeases: %v", err)
	}
	if err := env.dispatcher.PollDue(ctx); err != nil {
		t.Fatalf("PollDue: %v", err)
	}
	env.drain(ctx)

	recovered, err := env.store.AttemptByID(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("AttemptByID: %v", err)
	}
	if recovered.Status != crisis.AttemptSent {
		t.Fatalf("recovered attempt = %+v", recovered)
	}
}
