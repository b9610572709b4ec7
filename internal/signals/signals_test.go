package signals_test

import (
	"errors"
	"testing"
	"time"

	"vigil/internal/services"
	"vigil/internal/signals"
)

func validSignal(userID string, at time.Time) signals.Signal {
	return signals.Signal{
		UserID:        userID,
		Source:        signals.SourceText,
		Timestamp:     at,
		Features:      map[string]float64{"sentiment": 0.4},
		RawConfidence: 0.4,
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		input string
		want  signals.Source
		ok    bool
	}{
		{"text", signals.SourceText, true},
		{"  Voice ", signals.SourceVoice, true},
		{"BIOMETRIC", signals.SourceBiometric, true},
		{"behavioral", signals.SourceBehavioral, true},
		{"", "", false},
		{"telepathy", "", false},
	}
	for _, tc := range tests {
		got, ok := signals.ParseSource(tc.input)
		if ok != tc.ok {
			t.Fatalf("ParseSource(%q) ok = %v, want %v", tc.input, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("ParseSource(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestValidateAdmissionRules(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	skew := 5 * time.Minute

	tests := []struct {
		name   string
		mutate func(sig *signals.Signal)
		valid  bool
	}{
		{"accepts well-formed", func(sig *signals.Signal) {}, true},
		{"rejects blank user", func(sig *signals.Signal) { sig.UserID = "  " }, false},
		{"rejects unknown source", func(sig *signals.Signal) { sig.Source = "pager" }, false},
		{"rejects zero timestamp", func(sig *signals.Signal) { sig.Timestamp = time.Time{} }, false},
		{"rejects far-future timestamp", func(sig *signals.Signal) { sig.Timestamp = now.Add(10 * time.Minute) }, false},
		{"accepts timestamp within skew", func(sig *signals.Signal) { sig.Timestamp = now.Add(time.Minute) }, true},
		{"rejects confidence above one", func(sig *signals.Signal) { sig.RawConfidence = 1.2 }, false},
		{"rejects negative confidence", func(sig *signals.Signal) { sig.RawConfidence = -0.1 }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sig := validSignal("user-1", now.Add(-time.Minute))
			tc.mutate(&sig)
			err := signals.Validate(sig, now, skew)
			if tc.valid && err != nil {
				t.Fatalf("Validate returned %v, want nil", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatal("Validate returned nil, want error")
				}
				if !errors.Is(err, services.ErrIngest) {
					t.Fatalf("rejection not tagged as ingest error: %v", err)
				}
			}
		})
	}
}

func TestFingerprintStability(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := validSignal("user-1", at)

	if signals.Fingerprint(base) != signals.Fingerprint(base) {
		t.Fatal("identical signals produced different fingerprints")
	}

	// Key case and surrounding whitespace fold away before hashing.
	folded := base
	folded.Features = map[string]float64{" Sentiment ": 0.4}
	if signals.Fingerprint(folded) != signals.Fingerprint(base) {
		t.Fatal("case and whitespace variants of a feature key changed the fingerprint")
	}

	changedValue := base
	changedValue.Features = map[string]float64{"sentiment": 0.5}
	if signals.Fingerprint(changedValue) == signals.Fingerprint(base) {
		t.Fatal("different feature value collided")
	}

	changedUser := base
	changedUser.UserID = "user-2"
	if signals.Fingerprint(changedUser) == signals.Fingerprint(base) {
		t.Fatal("different users collided")
	}

	changedTime := base
	changedTime.Timestamp = at.Add(time.Second)
	if signals.Fingerprint(changedTime) == signals.Fingerprint(base) {
		t.Fatal("different timestamps collided")
	}
}

func TestShardForIsStable(t *testing.T) {
	if got := signals.ShardFor("user-1", 1); got != 0 {
		t.Fatalf("single shard routed to %d", got)
	}
	first := signals.ShardFor("user-1", 8)
	for i := 0; i < 10; i++ {
		if got := signals.ShardFor("user-1", 8); got != first {
			t.Fatalf("shard changed between calls: %d then %d", first, got)
		}
	}
	if first < 0 || first >= 8 {
		t.Fatalf("shard %d out of range", first)
	}
}

func TestBusPreservesPerUserOrder(t *testing.T) {
	bus := signals.NewBus(4, 16)
	defer bus.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var shard int
	for i := 0; i < 5; i++ {
		sig := validSignal("user-1", now.Add(time.Duration(i)*time.Second))
		got, err := bus.Publish(sig, now)
		if err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
		if i == 0 {
			shard = got
		} else if got != shard {
			t.Fatalf("signal %d routed to shard %d, earlier ones to %d", i, got, shard)
		}
	}

	ch := bus.Subscribe(shard)
	for i := 0; i < 5; i++ {
		sig := <-ch
		if want := now.Add(time.Duration(i) * time.Second); !sig.Timestamp.Equal(want) {
			t.Fatalf("delivery %d has timestamp %s, want %s", i, sig.Timestamp, want)
		}
		if !sig.Received.Equal(now) {
			t.Fatalf("delivery %d missing received stamp", i)
		}
	}
}

func TestBusFlagsOutOfOrderSignals(t *testing.T) {
	bus := signals.NewBus(1, 16)
	defer bus.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := bus.Publish(validSignal("user-1", now), now); err != nil {
		t.Fatalf("Publish newer: %v", err)
	}
	if _, err := bus.Publish(validSignal("user-1", now.Add(-time.Minute)), now); err != nil {
		t.Fatalf("Publish older: %v", err)
	}

	ch := bus.Subscribe(0)
	first := <-ch
	second := <-ch
	if first.OutOfOrder {
		t.Fatal("first delivery flagged out of order")
	}
	if !second.OutOfOrder {
		t.Fatal("late delivery not flagged out of order")
	}
}

func TestBusBackpressureSurfacesAsError(t *testing.T) {
	bus := signals.NewBus(1, 1)
	defer bus.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := bus.Publish(validSignal("user-1", now), now); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	_, err := bus.Publish(validSignal("user-1", now.Add(time.Second)), now)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("full queue error = %v, want timeout tag", err)
	}
}

func TestBusRejectsPublishAfterClose(t *testing.T) {
	bus := signals.NewBus(1, 1)
	bus.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := bus.Publish(validSignal("user-1", now), now); err == nil {
		t.Fatal("expected error publishing on a closed bus")
	}
}
