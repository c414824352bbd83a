// Package tool defines the tools an agent under test calls and the registry
// that classifies them.
//
// A tool is a named callable with a human-readable description and a kind:
//
//   - KindQuery tools are read-only (search an inbox, read a document).
//   - KindMutation tools have side effects (send an email, create an event).
//
// The registry is populated once at startup and exported to long-term memory
// so the decision oracle can reason about tool implementations before any bug
// has been found:
//
//	reg := tool.NewRegistry()
//	reg.Register(tool.Tool{
//		Name:        "search_emails",
//		Kind:        tool.KindQuery,
//		Description: "Search the inbox for messages matching a query.",
//	}, searchEmails)
//
//	for _, d := range reg.Export() {
//		// index d into long-term memory
//	}
//
// Arguments and results are opaque to the interposition layer: arguments are
// an Args map that is only ever stringified for prompts and records, and a
// tool returns its result already rendered as a string.
package tool
