package logging

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

type infoField struct {
	label string
	value string
}

const infoAttrLimit = 8

var infoHighlightKeys = []string{
	FieldAlert,
	FieldEventType,
	FieldDecisionType,
	FieldTier,
	"previous_tier",
	"next_tier",
	FieldScore,
	"trend",
	FieldSource,
	FieldChannel,
	"target",
	"status",
	"acknowledged_by",
	"attempt_count",
	"next_attempt_in",
	"queue_depth",
	"error_message",
	FieldErrorCode,
	FieldErrorHint,
	"reason",
	"review_reason",
	"dwell",
	"backoff",
	"tick_duration",
	"evaluated_cases",
	"evicted_users",
	"rehydrated_cases",
	"signal_count",
	"duplicate",
	"out_of_order",
}

// selectInfoFields returns formatted info-level fields and a count of hidden entries.
// limit=0 means no limit. includeDebug controls whether debug-only keys are allowed.
func selectInfoFields(attrs []kv, limit int, includeDebug bool) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	if limit < 0 {
		limit = 0
	}
	used := make([]bool, len(attrs))
	formatted := make([]string, len(attrs))
	formattedSet := make([]bool, len(attrs))
	ensureValue := func(idx int) string {
		if !formattedSet[idx] {
			formatted[idx] = formatValueForKey(attrs[idx].key, attrs[idx].value)
			formattedSet[idx] = true
		}
		return formatted[idx]
	}
	result := make([]infoField, 0, infoAttrLimit)
	hidden := 0

	for _, key := range infoHighlightKeys {
		if limit > 0 && len(result) >= limit {
			break
		}
		for idx, attr := range attrs {
			if used[idx] || attr.key != key {
				continue
			}
			used[idx] = true
			if skipInfoKey(attr.key) {
				break
			}
			if !includeDebug && isDebugOnlyKey(attr.key) {
				hidden++
				break
			}
			val := ensureValue(idx)
			if !includeDebug && shouldHideInfoValue(attr.key, val) {
				hidden++
				break
			}
			result = append(result, infoField{label: displayLabel(attr.key), value: val})
			break
		}
	}

	for idx, attr := range attrs {
		if used[idx] {
			continue
		}
		used[idx] = true
		if skipInfoKey(attr.key) {
			continue
		}
		if !includeDebug && isDebugOnlyKey(attr.key) {
			hidden++
			continue
		}
		val := ensureValue(idx)
		if !includeDebug && shouldHideInfoValue(attr.key, val) {
			hidden++
			continue
		}
		if limit <= 0 || len(result) < limit {
			result = append(result, infoField{label: displayLabel(attr.key), value: val})
		} else if limit > 0 {
			hidden++
		}
	}

	return result, hidden
}

// formatValueForKey applies smart formatting based on the key name.
func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()

	if isScoreKey(key) && v.Kind() == slog.KindFloat64 {
		return formatScore(v.Float64())
	}

	if isDurationKey(key) && v.Kind() == slog.KindDuration {
		return formatDurationHuman(v.Duration())
	}

	if isPercentKey(key) && v.Kind() == slog.KindFloat64 {
		return formatPercent(v.Float64())
	}

	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}

	value := formatValue(v)
	if key == "error" || key == "error_message" {
		value = truncateErrorValue(value)
	}
	return value
}

// isScoreKey returns true if the key holds a composite or per-source risk score.
func isScoreKey(key string) bool {
	return key == FieldScore ||
		key == "composite_score" ||
		strings.HasSuffix(key, "_score") ||
		strings.HasSuffix(key, "_threshold")
}

// isDurationKey returns true if the key represents a duration.
func isDurationKey(key string) bool {
	return strings.HasSuffix(key, "_duration") ||
		strings.HasSuffix(key, "_elapsed") ||
		strings.HasSuffix(key, "_latency") ||
		strings.HasSuffix(key, "_in") ||
		key == "elapsed" ||
		key == "duration" ||
		key == "dwell" ||
		key == "backoff"
}

// isPercentKey returns true if the key represents a percentage.
func isPercentKey(key string) bool {
	return strings.HasSuffix(key, "_percent")
}

func formatScore(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}

func formatPercent(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64) + "%"
}

func formatDurationHuman(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(time.Second).String()
	case d < time.Hour:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Minute).String()
	}
}

func truncateErrorValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	const maxLen = 200
	if len(value) > maxLen {
		value = value[:maxLen] + "…"
	}
	return value
}

func skipInfoKey(key string) bool {
	switch key {
	case "", FieldUserID, FieldCaseID, FieldTier, FieldComponent:
		return true
	default:
		return false
	}
}

func isDebugOnlyKey(key string) bool {
	if key == "" {
		return true
	}
	switch key {
	case FieldCorrelationID,
		FieldSignalID,
		FieldAttemptID,
		FieldWorker,
		"fingerprint",
		"half_life",
		"weight",
		"raw_confidence",
		"accumulator",
		"shard",
		"sequence":
		return true
	}
	if strings.Contains(key, "correlation") {
		return true
	}
	if strings.HasSuffix(key, "_id") && key != FieldUserID && key != FieldCaseID {
		return true
	}
	if strings.HasPrefix(key, "feature.") {
		return true
	}
	if strings.Contains(key, "_path") || strings.Contains(key, "_dir") {
		return true
	}
	if strings.Contains(key, "fingerprint") {
		return true
	}
	return false
}

func shouldHideInfoValue(key, value string) bool {
	switch key {
	case "error_message", "error", "reason", "review_reason":
		return false
	}
	return len(value) > 120
}

func displayLabel(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldDecisionType:
		return "Decision"
	case FieldErrorCode:
		return "Error Code"
	case FieldErrorHint:
		return "Hint"
	case FieldUserID:
		return "User"
	case FieldCaseID:
		return "Case"
	case FieldTier:
		return "Tier"
	case FieldScore:
		return "Score"
	case FieldSource:
		return "Source"
	case FieldChannel:
		return "Channel"
	case "composite_score":
		return "Score"
	case "previous_tier":
		return "From"
	case "next_tier":
		return "To"
	case "trend":
		return "Trend"
	case "target":
		return "Target"
	case "status":
		return "Status"
	case "acknowledged_by":
		return "Acked By"
	case "attempt_count":
		return "Attempts"
	case "next_attempt_in":
		return "Next Attempt"
	case "queue_depth":
		return "Queue Depth"
	case "reason":
		return "Reason"
	case "review_reason":
		return "Review Reason"
	case "dwell":
		return "Dwell"
	case "backoff":
		return "Backoff"
	case "tick_duration":
		return "Tick Time"
	case "evaluated_cases":
		return "Evaluated"
	case "evicted_users":
		return "Evicted"
	case "rehydrated_cases":
		return "Rehydrated"
	case "signal_count":
		return "Signals"
	case "duplicate":
		return "Duplicate"
	case "out_of_order":
		return "Out Of Order"
	case "decision_result":
		return "Result"
	case "decision_reason":
		return "Why"
	default:
		return titleizeKey(key)
	}
}

func titleizeKey(key string) string {
	if key == "" {
		return ""
	}
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return strings.ToUpper(key[:1]) + strings.ToLower(key[1:])
	}
	for i, part := range parts {
		parts[i] = capitalizeASCII(part)
	}
	return strings.Join(parts, " ")
}

func capitalizeASCII(value string) string {
	switch len(value) {
	case 0:
		return ""
	case 1:
		return strings.ToUpper(value)
	default:
		lower := strings.ToLower(value)
		return strings.ToUpper(lower[:1]) + lower[1:]
	}
}

func infoSummaryKey(component, userID, caseID string, attrs []kv) string {
	caseID = strings.TrimSpace(caseID)
	if caseID != "" {
		return "case:" + caseID
	}
	userID = strings.TrimSpace(userID)
	if userID != "" {
		return "user:" + userID
	}
	if component != "" {
		return component
	}
	return attrValue(attrs, FieldEventType)
}

func attrValue(attrs []kv, key string) string {
	for _, kv := range attrs {
		if kv.key == key {
			return attrString(kv.value)
		}
	}
	return ""
}
