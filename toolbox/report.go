package toolbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
)

// reportValidate is the validator instance for bug reports.
var reportValidate *validator.Validate

func init() {
	reportValidate = validator.New()
	_ = reportValidate.RegisterValidation("severity", validateSeverity)
	_ = reportValidate.RegisterValidation("notblank", validators.NotBlank)
}

func validateSeverity(fl validator.FieldLevel) bool {
	_, err := finding.ParseSeverity(fl.Field().String())
	return err == nil
}

// BugReport is the argument set of a store-bug invocation. Every field is
// required.
type BugReport struct {
	BugID              string   `json:"bug_id" validate:"required,notblank"`
	RunID              string   `json:"run_id" validate:"required,notblank"`
	Hypothesis         string   `json:"hypothesis" validate:"required,notblank"`
	BugDescription     string   `json:"bug_description" validate:"required,notblank"`
	BugPattern         string   `json:"bug_pattern" validate:"required,notblank"`
	AssumptionViolated string   `json:"assumption_violated" validate:"required,notblank"`
	ToolsInvolved      ToolList `json:"tools_involved" validate:"required,min=1,dive,required"`
	Severity           string   `json:"severity" validate:"required,notblank,severity"`
}

// ParseBugReport decodes and validates store-bug arguments.
func ParseBugReport(arguments string) (BugReport, error) {
	var r BugReport
	if strings.TrimSpace(arguments) == "" {
		return r, fmt.Errorf("%w: no arguments", ErrInvalidArguments)
	}
	if err := json.Unmarshal([]byte(arguments), &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	r.trim()
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

// Validate checks the report against its field rules.
func (r BugReport) Validate() error {
	if err := reportValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func (r *BugReport) trim() {
	for _, f := range []*string{&r.BugID, &r.RunID, &r.Hypothesis, &r.BugDescription, &r.BugPattern, &r.AssumptionViolated, &r.Severity} {
		*f = strings.TrimSpace(*f)
	}
}

// EmbeddingText is the text embedded for novelty comparison.
func (r BugReport) EmbeddingText() string {
	return strings.Join([]string{r.BugDescription, r.BugPattern, r.AssumptionViolated}, " ")
}

// Record converts the report into the bug record stored in long-term memory.
func (r BugReport) Record(now time.Time, embedding []float32) memory.BugRecord {
	sev, _ := finding.ParseSeverity(r.Severity)
	return memory.BugRecord{
		BugID:              r.BugID,
		Timestamp:          now,
		RunID:              r.RunID,
		Hypothesis:         r.Hypothesis,
		BugDescription:     r.BugDescription,
		BugPattern:         r.BugPattern,
		AssumptionViolated: r.AssumptionViolated,
		ToolsInvolved:      []string(r.ToolsInvolved),
		Severity:           sev,
		Embedding:          embedding,
	}
}

// ToolList accepts either a JSON array of tool names or a single
// comma-separated string.
type ToolList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *ToolList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = trimAll(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tools_involved must be a string or an array of strings")
	}
	*l = trimAll(strings.Split(s, ","))
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
