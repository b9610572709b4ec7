package signals

import (
	"fmt"
	"strings"
	"time"

	"vigil/internal/services"
)

// Validate checks a signal against admission rules. Rejections are tagged
// with services.ErrIngest so the HTTP layer can map them to client errors.
func Validate(sig Signal, now time.Time, maxFutureSkew time.Duration) error {
	if strings.TrimSpace(sig.UserID) == "" {
		return services.Wrap(services.ErrIngest, "signals", "validate", "user_id is required", nil)
	}
	if _, ok := sourceSet[sig.Source]; !ok {
		return services.Wrap(services.ErrIngest, "signals", "validate", fmt.Sprintf("unknown source %q", sig.Source), nil)
	}
	if sig.Timestamp.IsZero() {
		return services.Wrap(services.ErrIngest, "signals", "validate", "timestamp is required", nil)
	}
	if maxFutureSkew >= 0 && sig.Timestamp.After(now.Add(maxFutureSkew)) {
		return services.Wrap(services.ErrIngest, "signals", "validate",
			fmt.Sprintf("timestamp %s is more than %s in the future", sig.Timestamp.UTC().Format(time.RFC3339), maxFutureSkew), nil)
	}
	if sig.RawConfidence < 0 || sig.RawConfidence > 1 {
		return services.Wrap(services.ErrIngest, "signals", "validate",
			fmt.Sprintf("raw_confidence %.3f outside [0,1]", sig.RawConfidence), nil)
	}
	return nil
}
