package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint derives a stable identity for a signal from its user, source,
// timestamp, and feature vector. At-least-once producers may deliver the same
// observation twice; two deliveries of the same observation always fingerprint
// identically, so the aggregator's dedup journal can fold them once.
//
// Feature keys are NFC-normalized and case-folded before hashing so that
// byte-level differences in equivalent Unicode spellings do not defeat
// deduplication. Values are fixed to six decimal places for the same reason.
func Fingerprint(sig Signal) string {
	keys := make([]string, 0, len(sig.Features))
	normalized := make(map[string]float64, len(sig.Features))
	for key, value := range sig.Features {
		folded := strings.ToLower(norm.NFC.String(strings.TrimSpace(key)))
		keys = append(keys, folded)
		normalized[folded] = value
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(sig.UserID)
	builder.WriteByte('|')
	builder.WriteString(string(sig.Source))
	builder.WriteByte('|')
	builder.WriteString(sig.Timestamp.UTC().Format(time.RFC3339Nano))
	for _, key := range keys {
		builder.WriteByte('|')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(strconv.FormatFloat(normalized[key], 'f', 6, 64))
	}

	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}
