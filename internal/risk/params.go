package risk

import (
	"fmt"
	"time"

	"vigil/internal/config"
	"vigil/internal/signals"
)

// Params is the immutable aggregation configuration. A Params value is built
// once from config and passed by value; a reload builds a fresh value and
// swaps it between processing ticks, never mutating one in place.
type Params struct {
	HalfLife        map[signals.Source]time.Duration
	Weights         map[signals.Source]float64
	Hysteresis      float64
	TrendWindow     time.Duration
	StaleAfter      time.Duration
	ContributingCap int
	DedupWindow     time.Duration
}

// ParamsFromConfig derives aggregation parameters from validated config.
// Source weights are normalized to sum to one so the composite stays in [0,1].
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	params := Params{
		HalfLife:        make(map[signals.Source]time.Duration, len(cfg.Risk.HalfLifeSeconds)),
		Weights:         make(map[signals.Source]float64, len(cfg.Risk.SourceWeights)),
		Hysteresis:      cfg.Risk.TrendHysteresis,
		TrendWindow:     time.Duration(cfg.Risk.TrendWindowSeconds) * time.Second,
		StaleAfter:      time.Duration(cfg.Risk.StaleAfterHours) * time.Hour,
		ContributingCap: cfg.Risk.MaxContributingSignals,
		DedupWindow:     time.Duration(cfg.Ingest.DedupWindowSeconds) * time.Second,
	}

	var weightSum float64
	for name, weight := range cfg.Risk.SourceWeights {
		source, ok := signals.ParseSource(name)
		if !ok {
			return Params{}, fmt.Errorf("risk.source_weights: unknown source %q", name)
		}
		params.Weights[source] = weight
		weightSum += weight
	}
	if weightSum <= 0 {
		return Params{}, fmt.Errorf("risk.source_weights: weights sum to %.3f", weightSum)
	}
	for source := range params.Weights {
		params.Weights[source] /= weightSum
	}

	for name, seconds := range cfg.Risk.HalfLifeSeconds {
		source, ok := signals.ParseSource(name)
		if !ok {
			return Params{}, fmt.Errorf("risk.half_life_seconds: unknown source %q", name)
		}
		if seconds <= 0 {
			return Params{}, fmt.Errorf("risk.half_life_seconds.%s: must be positive", name)
		}
		params.HalfLife[source] = time.Duration(seconds) * time.Second
	}

	return params, nil
}
