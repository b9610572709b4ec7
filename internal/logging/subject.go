package logging

import "strings"

// FormatSubject builds the user/case/tier subject string used in console output.
func FormatSubject(userID, caseID, tier string) string {
	userID = strings.TrimSpace(userID)
	caseID = strings.TrimSpace(caseID)
	tier = strings.TrimSpace(tier)
	parts := make([]string, 0, 2)
	switch {
	case userID != "" && tier != "":
		parts = append(parts, "User "+shortID(userID)+" ("+tier+")")
	case userID != "":
		parts = append(parts, "User "+shortID(userID))
	case tier != "":
		parts = append(parts, tier)
	}
	if caseID != "" {
		parts = append(parts, "Case "+shortID(caseID))
	}
	return strings.Join(parts, " · ")
}

// shortID trims long identifiers (UUIDs) to their leading segment so console
// lines stay scannable. Full identifiers remain available in JSON output.
func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 && idx < len(id)-1 {
		return id[:idx]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
