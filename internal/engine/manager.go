// Package engine assembles the signal bus, risk aggregation, escalation
// machine, and intervention dispatcher into one running unit. Users are
// sharded across workers by a stable hash; every signal and timer event for a
// user executes on that user's worker, which is what makes per-user state
// safe without locks.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/clock"
	"vigil/internal/config"
	"vigil/internal/crisis"
	"vigil/internal/dispatch"
	"vigil/internal/escalation"
	"vigil/internal/logging"
	"vigil/internal/notify"
	"vigil/internal/risk"
	"vigil/internal/signals"
)

// Manager owns the engine's goroutines and the wiring between components.
type Manager struct {
	cfg    *config.Config
	store  *crisis.Store
	logger *slog.Logger
	clk    clock.Clock

	bus        *signals.Bus
	machine    *escalation.Machine
	dispatcher *dispatch.Dispatcher
	registry   *notify.Registry
	operators  notify.OperatorNotifier

	workers      int
	aggregators  []*risk.Aggregator
	tickChans    []chan time.Time
	tickInterval time.Duration

	latestParams atomic.Pointer[risk.Params]
	// appliedParams holds the params pointer each worker last installed. Slot
	// i is touched only by worker i.
	appliedParams []*risk.Params

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	started time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	clk        clock.Clock
	httpClient *http.Client
	registry   *notify.Registry
	operators  notify.OperatorNotifier
}

// WithClock substitutes the time source (tests).
func WithClock(clk clock.Clock) ManagerOption {
	return func(o *managerOptions) { o.clk = clk }
}

// WithHTTPClient substitutes the outbound delivery client.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(o *managerOptions) { o.httpClient = client }
}

// WithRegistry substitutes the channel registry (tests).
func WithRegistry(registry *notify.Registry) ManagerOption {
	return func(o *managerOptions) { o.registry = registry }
}

// WithOperators substitutes the operator pager (tests).
func WithOperators(operators notify.OperatorNotifier) ManagerOption {
	return func(o *managerOptions) { o.operators = operators }
}

// NewManager builds and wires a stopped engine.
func NewManager(cfg *config.Config, store *crisis.Store, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	clk := options.clk
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	params, err := risk.ParamsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := escalation.PolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	registry := options.registry
	if registry == nil {
		registry = notify.NewRegistry(cfg, options.httpClient)
	}
	operators := options.operators
	if operators == nil {
		operators = notify.NewOperatorNotifier(cfg)
	}

	workers := cfg.Engine.Workers
	if workers <= 0 {
		workers = 1
	}

	machine := escalation.NewMachine(policy, store, clk, logger)
	machine.SetAlerts(operators)

	dispatcher := dispatch.NewDispatcher(dispatch.OptionsFromConfig(cfg), store, registry, operators, clk, logger)
	machine.SetDispatch(dispatcher.Dispatch)
	dispatcher.SetEscalate(func(ctx context.Context, caseID, reason string) {
		if _, err := machine.ForceAdvance(ctx, caseID, reason); err != nil {
			logging.ErrorWithContext(logger, "forced escalation failed", "forced_escalation_failed",
				logging.String(logging.FieldCaseID, caseID),
				logging.Error(err))
		}
	})

	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "engine"),
		clk:          clk,
		bus:          signals.NewBus(workers, cfg.Engine.QueueCapacity),
		machine:      machine,
		dispatcher:   dispatcher,
		registry:     registry,
		operators:    operators,
		workers:      workers,
		tickInterval: time.Duration(cfg.Escalation.TickIntervalSeconds) * time.Second,
	}
	m.latestParams.Store(&params)
	m.appliedParams = make([]*risk.Params, workers)
	for i := 0; i < workers; i++ {
		m.aggregators = append(m.aggregators, risk.NewAggregator(params, store, clk, logger))
		m.tickChans = append(m.tickChans, make(chan time.Time, 1))
		m.appliedParams[i] = &params
	}
	return m, nil
}

// ApplyConfig re-derives the risk parameters and ladder policy from a
// reloaded config. The policy swaps immediately; each worker installs the new
// params at its next tick so no in-flight computation sees a partial set.
func (m *Manager) ApplyConfig(cfg *config.Config) error {
	params, err := risk.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}
	policy, err := escalation.PolicyFromConfig(cfg)
	if err != nil {
		return err
	}
	m.machine.SetPolicy(policy)
	m.latestParams.Store(&params)

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.logger.Info("configuration applied", logging.String(logging.FieldEventType, "config_reloaded"))
	return nil
}

// Machine exposes the escalation state machine for the control surfaces.
func (m *Manager) Machine() *escalation.Machine { return m.machine }

// Registry exposes the configured delivery channels.
func (m *Manager) Registry() *notify.Registry { return m.registry }

// Operators exposes the operator pager.
func (m *Manager) Operators() notify.OperatorNotifier { return m.operators }

// Start launches the shard workers, the tick loop, and the dispatch pool.
// Attempts leased by a previous process are reclaimed first so a crash never
// strands a pending intervention.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	now := m.clk.Now().UTC()
	if reclaimed, err := m.store.ReclaimStaleLeases(ctx, now); err != nil {
		return err
	} else if reclaimed > 0 {
		m.logger.Info("reclaimed stale delivery leases", logging.Int64("count", reclaimed))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.started = now

	m.dispatcher.Start(runCtx)

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.runWorker(runCtx, i)
	}
	m.wg.Add(1)
	go m.runTicker(runCtx)

	m.logger.Info("engine started",
		logging.Int("workers", m.workers),
		logging.Duration("tick_interval", m.tickInterval))
	return nil
}

// Stop shuts the engine down in dependency order: no new signals, drain
// workers, then stop the dispatch pool.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	m.bus.Close()
	cancel()
	m.wg.Wait()
	m.dispatcher.Stop()
	m.logger.Info("engine stopped")
}

// Running reports whether the engine loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Ingest validates and admits one signal. Validation failures carry the
// ingest marker (client error); a full shard queue carries the timeout marker
// (backpressure).
func (m *Manager) Ingest(ctx context.Context, sig signals.Signal) error {
	now := m.clk.Now().UTC()
	m.mu.Lock()
	maxSkew := time.Duration(m.cfg.Ingest.MaxFutureSkewSeconds) * time.Second
	m.mu.Unlock()
	if err := signals.Validate(sig, now, maxSkew); err != nil {
		m.logger.Warn("signal rejected",
			logging.String(logging.FieldUserID, sig.UserID),
			logging.String(logging.FieldSource, string(sig.Source)),
			logging.Error(err))
		return err
	}
	_, err := m.bus.Publish(sig, now)
	return err
}

// runWorker owns one shard: every signal and tick for the shard's users runs
// here, in order, with no other goroutine touching their state.
func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int(logging.FieldWorker, index))
	agg := m.aggregators[index]
	inbox := m.bus.Subscribe(index)
	ticks := m.tickChans[index]
	samplers := make(map[string]*logging.ScoreSampler)

	for {
		select {
		case sig, ok := <-inbox:
			if !ok {
				return
			}
			m.handleSignal(ctx, logger, agg, samplers, sig)
		case now, ok := <-ticks:
			if !ok {
				return
			}
			m.handleTick(ctx, logger, agg, samplers, index, now)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handleSignal(ctx context.Context, logger *slog.Logger, agg *risk.Aggregator, samplers map[string]*logging.ScoreSampler, sig signals.Signal) {
	update, err := agg.OnSignal(ctx, sig)
	if err != nil {
		logging.ErrorWithContext(logger, "risk update failed", "risk_update_failed",
			logging.String(logging.FieldUserID, sig.UserID),
			logging.String(logging.FieldSource, string(sig.Source)),
			logging.Error(err))
		return
	}
	if update.Duplicate {
		return
	}
	sampler := samplers[sig.UserID]
	if sampler == nil {
		sampler = logging.NewScoreSampler(0)
		samplers[sig.UserID] = sampler
	}
	if sampler.ShouldLog(update.Composite, string(update.Trend)) {
		logger.Info("risk score updated",
			logging.String(logging.FieldUserID, sig.UserID),
			logging.Float64(logging.FieldScore, update.Composite),
			logging.String("trend", string(update.Trend)))
	}
	if _, err := m.machine.Evaluate(ctx, update); err != nil {
		logging.ErrorWithContext(logger, "escalation evaluation failed", "escalation_failed",
			logging.String(logging.FieldUserID, sig.UserID),
			logging.Float64(logging.FieldScore, update.Composite),
			logging.Error(err))
	}
}

func (m *Manager) handleTick(ctx context.Context, logger *slog.Logger, agg *risk.Aggregator, samplers map[string]*logging.ScoreSampler, index int, now time.Time) {
	if latest := m.latestParams.Load(); latest != m.appliedParams[index] {
		agg.SetParams(*latest)
		m.appliedParams[index] = latest
	}
	if agg.Sweep(now) > 0 {
		for userID := range samplers {
			if !agg.IsHot(userID) {
				delete(samplers, userID)
			}
		}
	}
	if index == 0 {
		if err := agg.PruneJournal(ctx, now); err != nil {
			logging.ErrorWithContext(logger, "journal prune failed", "journal_prune_failed", logging.Error(err))
		}
	}
	owns := func(userID string) bool {
		return signals.ShardFor(userID, m.workers) == index
	}
	if err := m.machine.Tick(ctx, owns); err != nil {
		logging.ErrorWithContext(logger, "escalation tick failed", "escalation_tick_failed", logging.Error(err))
	}
}

// runTicker fans the dwell/de-escalation timer to every worker. A worker
// still busy with its previous tick skips the beat instead of queueing it.
func (m *Manager) runTicker(ctx context.Context) {
	defer m.wg.Done()
	interval := m.tickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick delivers one timer beat to every worker. Exposed so tests can drive
// timer behavior with a manual clock instead of waiting out the interval.
func (m *Manager) Tick() {
	now := m.clk.Now().UTC()
	for _, ch := range m.tickChans {
		select {
		case ch <- now:
		default:
		}
	}
}
