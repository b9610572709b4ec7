package signals

import (
	"strings"
	"time"
)

// Source identifies the upstream system that produced a signal.
type Source string

const (
	SourceText       Source = "text"
	SourceVoice      Source = "voice"
	SourceBiometric  Source = "biometric"
	SourceBehavioral Source = "behavioral"
)

var allSources = []Source{SourceText, SourceVoice, SourceBiometric, SourceBehavioral}

var sourceSet = func() map[Source]struct{} {
	set := make(map[Source]struct{}, len(allSources))
	for _, source := range allSources {
		set[source] = struct{}{}
	}
	return set
}()

// AllSources returns the ordered list of known signal sources.
func AllSources() []Source {
	cp := make([]Source, len(allSources))
	copy(cp, allSources)
	return cp
}

// ParseSource converts a string into a known Source.
func ParseSource(value string) (Source, bool) {
	normalized := Source(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := sourceSet[normalized]
	return normalized, ok
}

// Signal is one immutable observation about a user, produced by an external
// feature extractor. Producers deliver at least once and possibly out of
// arrival order; the engine never mutates a signal after admission.
type Signal struct {
	UserID        string
	Source        Source
	Timestamp     time.Time
	Features      map[string]float64
	RawConfidence float64

	// Received is stamped at admission time.
	Received time.Time
	// OutOfOrder is set when the signal's timestamp precedes the newest
	// timestamp already admitted for the same user.
	OutOfOrder bool
}
