package planning

import (
	"regexp"
	"strings"
)

// DefaultStepType is used for steps without a usable leading tag.
const DefaultStepType = "default_agent"

// Leading "[tag]" after optional whitespace. Tag content may be any
// non-bracket characters, including non-ASCII ones.
var stepTagPattern = regexp.MustCompile(`^\s*\[([^\]]+)\]`)

// ResolveStepType extracts the worker type from a step requirement.
func ResolveStepType(requirement string) string {
	m := stepTagPattern.FindStringSubmatch(requirement)
	if m == nil {
		return DefaultStepType
	}
	tag := strings.ToLower(strings.TrimSpace(m[1]))
	if tag == "" {
		return DefaultStepType
	}
	return tag
}
