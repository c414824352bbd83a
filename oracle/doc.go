// Package oracle defines the decision oracle: the external reasoning service
// consulted for every interception decision, hypothesis and evaluation.
//
// An Oracle accepts a natural-language message, an agent id and an optional
// conversation id, and returns a reply, the continuation id, and any
// structured tool invocations it made along the way:
//
//	reply, err := o.Converse(ctx, oracle.Request{
//	    Message: prompt,
//	    AgentID: "gauntlet",
//	})
//
// Implementations live in sub-packages:
//
//   - scripted: a deterministic test double with queued replies
//   - kibana: the Agent Builder converse HTTP API
//   - openai: a self-hosted oracle running the toolbox through function calls
//
// Oracle failures are surfaced to the caller and never retried.
package oracle
