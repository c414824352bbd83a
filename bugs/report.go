package bugs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
)

// Summary aggregates bug records for reporting.
type Summary struct {
	Total      int                      `json:"total"`
	BySeverity map[finding.Severity]int `json:"by_severity"`
	ByPattern  map[finding.Pattern]int  `json:"by_pattern"`
	ByRun      map[string]int           `json:"by_run"`
	ByTool     map[string]int           `json:"by_tool"`
}

// Summarize counts bugs by severity, normalized pattern, run and tool.
func Summarize(bugs []memory.BugRecord) Summary {
	s := Summary{
		Total:      len(bugs),
		BySeverity: make(map[finding.Severity]int),
		ByPattern:  make(map[finding.Pattern]int),
		ByRun:      make(map[string]int),
		ByTool:     make(map[string]int),
	}
	for _, b := range bugs {
		s.BySeverity[b.Severity]++
		s.ByPattern[finding.NormalizePattern(b.BugPattern)]++
		s.ByRun[b.RunID]++
		for _, t := range b.ToolsInvolved {
			s.ByTool[t]++
		}
	}
	return s
}

// Highest returns the most severe severity present, or "" when there are
// no bugs.
func (s Summary) Highest() finding.Severity {
	var top finding.Severity
	for sev, n := range s.BySeverity {
		if n > 0 && sev.Rank() > top.Rank() {
			top = sev
		}
	}
	return top
}

// Format is an export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses an export format name. "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, csv or markdown)", s)
	}
}

var csvHeader = []string{
	"bug_id", "timestamp", "run_id", "severity", "bug_pattern",
	"tools_involved", "hypothesis", "bug_description", "assumption_violated",
}

// Export writes bugs to w in the given format.
func Export(w io.Writer, format Format, bugs []memory.BugRecord) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if bugs == nil {
			bugs = []memory.BugRecord{}
		}
		return enc.Encode(bugs)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, b := range bugs {
			if err := cw.Write([]string{
				b.BugID,
				b.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
				b.RunID,
				string(b.Severity),
				b.BugPattern,
				strings.Join(b.ToolsInvolved, ";"),
				b.Hypothesis,
				b.BugDescription,
				b.AssumptionViolated,
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatMarkdown:
		return writeMarkdown(w, bugs)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeMarkdown(w io.Writer, bugs []memory.BugRecord) error {
	var b strings.Builder
	s := Summarize(bugs)

	b.WriteString("# Gauntlet bug report\n\n")
	fmt.Fprintf(&b, "%d bugs", s.Total)
	if top := s.Highest(); top != "" {
		fmt.Fprintf(&b, ", highest severity: %s", top)
	}
	b.WriteString("\n\n")

	if s.Total > 0 {
		b.WriteString("| Severity | Count |\n|---|---|\n")
		for _, sev := range finding.AllSeverities() {
			if n := s.BySeverity[sev]; n > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", sev, n)
			}
		}
		b.WriteString("\n| Pattern | Count |\n|---|---|\n")
		patterns := make([]string, 0, len(s.ByPattern))
		for p := range s.ByPattern {
			patterns = append(patterns, string(p))
		}
		sort.Strings(patterns)
		for _, p := range patterns {
			fmt.Fprintf(&b, "| %s | %d |\n", p, s.ByPattern[finding.Pattern(p)])
		}
		b.WriteString("\n")
	}

	for _, bug := range bugs {
		fmt.Fprintf(&b, "## %s (%s)\n\n", bug.BugID, bug.Severity)
		fmt.Fprintf(&b, "- **Run:** %s\n", bug.RunID)
		fmt.Fprintf(&b, "- **Pattern:** %s\n", bug.BugPattern)
		fmt.Fprintf(&b, "- **Tools:** %s\n", strings.Join(bug.ToolsInvolved, ", "))
		fmt.Fprintf(&b, "- **Hypothesis:** %s\n", bug.Hypothesis)
		fmt.Fprintf(&b, "- **Assumption violated:** %s\n\n", bug.AssumptionViolated)
		fmt.Fprintf(&b, "%s\n\n", bug.BugDescription)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
