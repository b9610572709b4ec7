package risk

import (
	"context"
	"log/slog"
	"time"

	"vigil/internal/clock"
	"vigil/internal/crisis"
	"vigil/internal/logging"
	"vigil/internal/signals"
)

// Trend describes the direction of a user's composite score relative to its
// value roughly one trend window earlier.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Update is the result of folding one signal into a user's risk state.
type Update struct {
	UserID    string
	Composite float64
	Trend     Trend
	PerSource map[signals.Source]float64
	// Duplicate marks a signal already folded under the same fingerprint.
	// Duplicates contribute nothing but are still audited.
	Duplicate bool
}

type samplePoint struct {
	at        time.Time
	composite float64
}

type userState struct {
	perSource    map[signals.Source]*accumulator
	history      []samplePoint
	contributing []string
	lastSeen     time.Time
}

// Aggregator fuses signals into per-user composite risk scores. It is owned
// by a single engine worker; callers must not share one Aggregator across
// workers. The composite is always derived from the per-source accumulators,
// never written directly.
type Aggregator struct {
	params Params
	store  *crisis.Store
	clk    clock.Clock
	logger *slog.Logger

	states map[string]*userState
}

// NewAggregator builds a worker-local aggregator.
func NewAggregator(params Params, store *crisis.Store, clk clock.Clock, logger *slog.Logger) *Aggregator {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Aggregator{
		params: params,
		store:  store,
		clk:    clk,
		logger: logging.NewComponentLogger(logger, "risk"),
		states: make(map[string]*userState),
	}
}

// SetParams swaps the aggregation parameters. The engine calls this between
// processing ticks, so no computation ever sees a half-applied config.
func (a *Aggregator) SetParams(params Params) {
	a.params = params
}

// OnSignal folds one admitted signal into the user's risk state, persists the
// resulting snapshot, and appends audit records for both the ingestion and
// the computation.
func (a *Aggregator) OnSignal(ctx context.Context, sig signals.Signal) (Update, error) {
	now := a.clk.Now().UTC()
	fingerprint := signals.Fingerprint(sig)

	fresh := true
	if a.store != nil {
		inserted, err := a.store.RecordSignalFingerprint(ctx, sig.UserID, fingerprint, now)
		if err != nil {
			return Update{}, err
		}
		fresh = inserted
	}

	if a.store != nil {
		payload := map[string]any{
			"source":      string(sig.Source),
			"fingerprint": fingerprint,
			"confidence":  sig.RawConfidence,
			"timestamp":   sig.Timestamp.UTC().Format(time.RFC3339Nano),
			"duplicate":   !fresh,
		}
		if sig.OutOfOrder {
			payload["out_of_order"] = true
		}
		if _, err := a.store.AppendAudit(ctx, sig.UserID, "", crisis.AuditSignalIngested, payload, now); err != nil {
			return Update{}, err
		}
	}

	state, err := a.stateFor(ctx, sig.UserID, now)
	if err != nil {
		return Update{}, err
	}

	if !fresh {
		update := a.buildUpdate(sig.UserID, state, now)
		update.Duplicate = true
		a.logger.Debug("duplicate signal ignored",
			logging.String(logging.FieldUserID, sig.UserID),
			logging.String(logging.FieldSource, string(sig.Source)),
			logging.String(logging.FieldSignalID, fingerprint))
		return update, nil
	}

	for source, acc := range state.perSource {
		acc.decayTo(now, a.params.HalfLife[source])
	}
	acc := state.perSource[sig.Source]
	if acc == nil {
		acc = &accumulator{updatedAt: now}
		state.perSource[sig.Source] = acc
	}
	acc.decayTo(now, a.params.HalfLife[sig.Source])
	acc.fold(sig.RawConfidence * a.params.Weights[sig.Source])

	state.contributing = append([]string{fingerprint}, state.contributing...)
	if limit := a.params.ContributingCap; limit > 0 && len(state.contributing) > limit {
		state.contributing = state.contributing[:limit]
	}
	state.lastSeen = now

	update := a.buildUpdate(sig.UserID, state, now)

	state.history = append(state.history, samplePoint{at: now, composite: update.Composite})
	state.history = trimHistory(state.history, now.Add(-2*a.params.TrendWindow))

	if a.store != nil {
		perSource := make(map[string]float64, len(update.PerSource))
		for source, score := range update.PerSource {
			perSource[string(source)] = score
		}
		snapshot := &crisis.RiskSnapshot{
			UserID:       sig.UserID,
			Composite:    update.Composite,
			Trend:        string(update.Trend),
			PerSource:    perSource,
			Contributing: state.contributing,
			LastUpdated:  now,
		}
		if err := a.store.SaveRiskSnapshot(ctx, snapshot); err != nil {
			return Update{}, err
		}
		payload := map[string]any{
			"composite":  update.Composite,
			"trend":      string(update.Trend),
			"source":     string(sig.Source),
			"per_source": perSource,
		}
		if _, err := a.store.AppendAudit(ctx, sig.UserID, "", crisis.AuditScoreComputed, payload, now); err != nil {
			return Update{}, err
		}
	}

	a.logger.Debug("score computed",
		logging.String(logging.FieldUserID, sig.UserID),
		logging.Float64(logging.FieldScore, update.Composite),
		logging.String("trend", string(update.Trend)),
		logging.String(logging.FieldSource, string(sig.Source)))

	return update, nil
}

// buildUpdate derives the composite and trend from current accumulators.
func (a *Aggregator) buildUpdate(userID string, state *userState, now time.Time) Update {
	perSource := make(map[signals.Source]float64, len(state.perSource))
	var composite float64
	for source, weight := range a.params.Weights {
		var score float64
		if acc, ok := state.perSource[source]; ok {
			score = acc.value
		}
		perSource[source] = score
		composite += weight * score
	}
	composite = clamp01(composite)

	return Update{
		UserID:    userID,
		Composite: composite,
		Trend:     a.trendFor(state, composite, now),
		PerSource: perSource,
	}
}

// trendFor compares the composite against its value roughly one trend window
// earlier, with a hysteresis band so noise reads as stable.
func (a *Aggregator) trendFor(state *userState, composite float64, now time.Time) Trend {
	reference, ok := sampleAtOrBefore(state.history, now.Add(-a.params.TrendWindow))
	if !ok {
		return TrendStable
	}
	delta := composite - reference
	switch {
	case delta > a.params.Hysteresis:
		return TrendRising
	case delta < -a.params.Hysteresis:
		return TrendFalling
	default:
		return TrendStable
	}
}

// stateFor returns the hot state for a user, rebuilding it from the persisted
// snapshot after an eviction. Rebuilt accumulators decay from the snapshot's
// last update, so eviction is cold storage rather than data loss.
func (a *Aggregator) stateFor(ctx context.Context, userID string, now time.Time) (*userState, error) {
	if state, ok := a.states[userID]; ok {
		return state, nil
	}

	state := &userState{
		perSource: make(map[signals.Source]*accumulator),
		lastSeen:  now,
	}

	if a.store != nil {
		snapshot, err := a.store.RiskSnapshotForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			for name, score := range snapshot.PerSource {
				source, ok := signals.ParseSource(name)
				if !ok {
					continue
				}
				state.perSource[source] = &accumulator{value: score, updatedAt: snapshot.LastUpdated}
			}
			state.contributing = append(state.contributing, snapshot.Contributing...)
			state.history = append(state.history, samplePoint{at: snapshot.LastUpdated, composite: snapshot.Composite})
			a.logger.Debug("risk state rehydrated",
				logging.String(logging.FieldUserID, userID),
				logging.Float64(logging.FieldScore, snapshot.Composite))
		}
	}

	a.states[userID] = state
	return state, nil
}

// Sweep evicts hot state for users idle longer than the stale window.
func (a *Aggregator) Sweep(now time.Time) int {
	if a.params.StaleAfter <= 0 {
		return 0
	}
	cutoff := now.Add(-a.params.StaleAfter)
	evicted := 0
	for userID, state := range a.states {
		if state.lastSeen.Before(cutoff) {
			delete(a.states, userID)
			evicted++
		}
	}
	if evicted > 0 {
		a.logger.Debug("evicted stale risk states", logging.Int("count", evicted))
	}
	return evicted
}

// IsHot reports whether the user currently has in-memory risk state.
func (a *Aggregator) IsHot(userID string) bool {
	_, ok := a.states[userID]
	return ok
}

// PruneJournal drops dedup journal entries older than the dedup window.
func (a *Aggregator) PruneJournal(ctx context.Context, now time.Time) error {
	if a.store == nil || a.params.DedupWindow <= 0 {
		return nil
	}
	_, err := a.store.PruneSignalJournal(ctx, now.Add(-a.params.DedupWindow))
	return err
}

func trimHistory(history []samplePoint, cutoff time.Time) []samplePoint {
	idx := 0
	for idx < len(history) && history[idx].at.Before(cutoff) {
		idx++
	}
	// Keep one sample older than the cutoff as the trend reference point.
	if idx > 0 {
		idx--
	}
	return history[idx:]
}

func sampleAtOrBefore(history []samplePoint, at time.Time) (float64, bool) {
	var (
		found float64
		ok    bool
	)
	for _, sample := range history {
		if sample.at.After(at) {
			break
		}
		found = sample.composite
		ok = true
	}
	return found, ok
}
