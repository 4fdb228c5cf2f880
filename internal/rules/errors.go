package rules

import "fmt"

// RuleError wraps a panic or returned error from a single rule's action so
// Run can attribute it without aborting the rest of the evaluation pass
// (spec §4.5 "Rule execution errors are caught per rule").
type RuleError struct {
	RuleName string
	Cause    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rules: rule %q failed: %v", e.RuleName, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

func panicToError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("%v", rec)
}
