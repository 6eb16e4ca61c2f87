package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports one param or field that does not match its type.
type ValidationError struct {
	Key    string
	Reason string
	// Value is the decoded JSON value, nil when the key was missing.
	Value any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("field %q: %s (got %T)", e.Key, e.Reason, e.Value)
}

// AggregateError carries every failure of one validation pass, in
// declaration order.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, err)
	}
	return b.String()
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// ValidationErrors returns the individual failures wrapped in err, or nil
// when err carries no AggregateError.
func ValidationErrors(err error) []error {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		return aggr.Errors
	}
	return nil
}

// collect accumulates failures while walking a payload.
type collect []error

func (c *collect) missing(key string) {
	*c = append(*c, &ValidationError{Key: key, Reason: "required"})
}

func (c *collect) mismatch(key string, err error, value any) {
	*c = append(*c, &ValidationError{Key: key, Reason: err.Error(), Value: value})
}

func (c collect) err() error {
	if len(c) == 0 {
		return nil
	}
	return &AggregateError{Errors: c}
}
