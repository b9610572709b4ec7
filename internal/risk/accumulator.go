package risk

import (
	"math"
	"time"
)

// accumulator holds one exponentially decayed per-source score.
type accumulator struct {
	value     float64
	updatedAt time.Time
}

// decayTo ages the accumulator to now: value *= 0.5^(elapsed/halfLife).
func (a *accumulator) decayTo(now time.Time, halfLife time.Duration) {
	if a.updatedAt.IsZero() || halfLife <= 0 {
		a.updatedAt = now
		return
	}
	elapsed := now.Sub(a.updatedAt)
	if elapsed <= 0 {
		return
	}
	a.value *= math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
	a.updatedAt = now
}

// fold adds a contribution and clamps the score to [0,1].
func (a *accumulator) fold(contribution float64) {
	a.value = clamp01(a.value + contribution)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
