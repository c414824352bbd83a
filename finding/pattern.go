package finding

import "strings"

// Pattern names the failure mode a bug follows.
type Pattern string

const (
	// PatternPromptInjection: the agent followed instructions embedded in tool data.
	PatternPromptInjection Pattern = "prompt-injection"

	// PatternHallucination: the agent asserted facts no tool returned.
	PatternHallucination Pattern = "hallucination"

	// PatternDataLeak: the agent moved private data somewhere it should not go.
	PatternDataLeak Pattern = "data-leak"

	// PatternStateCorruption: the agent acted on inconsistent or stale state.
	PatternStateCorruption Pattern = "state-corruption"

	// PatternToolMisuse: the agent called the wrong tool or with wrong arguments.
	PatternToolMisuse Pattern = "tool-misuse"

	// PatternInstructionDrift: the agent abandoned the user's task.
	PatternInstructionDrift Pattern = "instruction-drift"
)

var knownPatterns = []Pattern{
	PatternPromptInjection,
	PatternHallucination,
	PatternDataLeak,
	PatternStateCorruption,
	PatternToolMisuse,
	PatternInstructionDrift,
}

// KnownPatterns returns the named patterns in a stable order.
func KnownPatterns() []Pattern {
	out := make([]Pattern, len(knownPatterns))
	copy(out, knownPatterns)
	return out
}

// IsKnown reports whether the pattern is one of the named patterns.
func (p Pattern) IsKnown() bool {
	for _, k := range knownPatterns {
		if p == k {
			return true
		}
	}
	return false
}

func (p Pattern) String() string {
	return string(p)
}

// NormalizePattern lowercases a pattern and joins words with hyphens, so
// "Prompt Injection" and "prompt_injection" both become "prompt-injection".
func NormalizePattern(s string) Pattern {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return Pattern(strings.Trim(s, "-"))
}

// PatternExamples returns the known patterns joined for use in prompts.
func PatternExamples() string {
	names := make([]string, len(knownPatterns))
	for i, p := range knownPatterns {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
