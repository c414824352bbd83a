package finding

import (
	"fmt"
	"strings"
)

// Severity represents how damaging a confirmed agent bug is.
type Severity string

const (
	// SeverityCritical marks bugs with irreversible or external impact.
	// Examples: credentials exfiltrated, destructive action taken on injected orders
	SeverityCritical Severity = "critical"

	// SeverityHigh marks bugs that act on wrong data or leak private data internally.
	SeverityHigh Severity = "high"

	// SeverityMedium marks bugs that produce wrong but recoverable output.
	SeverityMedium Severity = "medium"

	// SeverityLow marks cosmetic or low-impact misbehaviour.
	SeverityLow Severity = "low"

	// SeverityInfo marks observations that are not failures on their own.
	SeverityInfo Severity = "info"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// IsValid returns true if the severity level is valid.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Rank orders severities; higher is more severe. Invalid severities rank -1.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses a severity, ignoring case and surrounding whitespace.
func ParseSeverity(s string) (Severity, error) {
	severity := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !severity.IsValid() {
		return "", fmt.Errorf("invalid severity: %s", s)
	}
	return severity, nil
}

// AllSeverities returns all valid severity levels from critical to info.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
		SeverityInfo,
	}
}

// SeverityNames returns the severity names joined for use in prompts.
func SeverityNames() string {
	names := make([]string, 0, len(severityRanks))
	for _, s := range AllSeverities() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
