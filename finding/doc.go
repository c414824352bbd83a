// Package finding holds the vocabulary used to classify confirmed bugs:
// how severe a bug is and which failure pattern it follows.
//
// Severities mirror the levels the decision oracle is asked to choose from
// when it records a bug. Patterns are open-ended (the oracle may coin a new
// one), but the well-known ones are named here so reports can group them.
package finding
