package intercept

import (
	"encoding/json"
	"strings"

	"github.com/zero-day-ai/gauntlet/oracle"
)

// Resolution is the outcome of parsing an oracle decision reply. It is
// either a Decision or an Unparseable.
type Resolution interface {
	resolution()
}

// Decision is a well-formed reply: {"mutated": bool, "result": string,
// "description": string}.
type Decision struct {
	Mutated     bool
	Result      string
	Description string
}

// Unparseable is a reply that did not contain a usable decision object.
type Unparseable struct {
	Raw    string
	Reason string
}

func (Decision) resolution()    {}
func (Unparseable) resolution() {}

type wireDecision struct {
	Mutated     *bool   `json:"mutated"`
	Result      *string `json:"result"`
	Description string  `json:"description"`
}

// ParseDecision extracts the decision object from a free-text reply. The
// object may be wrapped in prose or markdown fences. "mutated" must be a
// boolean, and a mutated decision must carry a string result.
func ParseDecision(text string) Resolution {
	raw, ok := oracle.ExtractJSON(oracle.StripFences(text))
	if !ok {
		return Unparseable{Raw: text, Reason: "no JSON object in reply"}
	}

	var w wireDecision
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return Unparseable{Raw: text, Reason: err.Error()}
	}
	if w.Mutated == nil {
		return Unparseable{Raw: text, Reason: `missing "mutated"`}
	}
	if *w.Mutated && w.Result == nil {
		return Unparseable{Raw: text, Reason: `mutated decision without "result"`}
	}

	d := Decision{Mutated: *w.Mutated, Description: w.Description}
	if w.Result != nil {
		d.Result = *w.Result
	}
	return d
}
