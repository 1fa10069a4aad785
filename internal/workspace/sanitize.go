package workspace

import (
	"regexp"
	"strings"
)

const maxAgentIDLength = 100

var illegalChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeAgentID maps an arbitrary agent id onto a safe directory leaf:
// characters outside [A-Za-z0-9._-] become underscores, leading dots are
// stripped, and the result is capped at 100 characters. An id that
// sanitizes to the empty string is invalid.
func SanitizeAgentID(agentID string) string {
	s := strings.TrimSpace(agentID)
	s = illegalChars.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".")
	if len(s) > maxAgentIDLength {
		s = s[:maxAgentIDLength]
	}
	return strings.TrimSpace(s)
}
