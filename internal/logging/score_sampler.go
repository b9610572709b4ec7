package logging

import "strings"

// ScoreSampler suppresses repetitive score logs while preserving signal when
// the score crosses a bucket boundary or its label (tier, trend) changes.
// Scores arrive on every ingested signal, so logging each one at info level
// would swamp the console during a burst.
type ScoreSampler struct {
	bucketSize float64
	lastLabel  string
	lastBucket int
}

// NewScoreSampler constructs a sampler with the given bucket width
// (default 0.05).
func NewScoreSampler(bucketSize float64) *ScoreSampler {
	if bucketSize <= 0 {
		bucketSize = 0.05
	}
	return &ScoreSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a score event should be logged. Score is expected
// in [0,1]; label is trimmed before comparison. Movement within a bucket in
// either direction stays quiet until a boundary is crossed.
func (s *ScoreSampler) ShouldLog(score float64, label string) bool {
	if s == nil {
		return true
	}
	label = strings.TrimSpace(label)
	emit := false
	if label != "" && label != s.lastLabel {
		s.lastLabel = label
		emit = true
		s.lastBucket = -1
	}
	if score >= 0 {
		bucket := int(score / s.bucketSize)
		if score >= 1 {
			bucket = int(1 / s.bucketSize)
		}
		if bucket != s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state (e.g. when a user's hot state is evicted).
func (s *ScoreSampler) Reset() {
	if s == nil {
		return
	}
	s.lastLabel = ""
	s.lastBucket = -1
}
