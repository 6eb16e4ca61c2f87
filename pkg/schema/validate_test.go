package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestType_Validate(t *testing.T) {
	user := Named("User", F("id", String()), Opt("nick", String()), F("age", Integer()))
	page := Generic("Page", []string{"T"}, F("items", Array(Param("T"))), F("next", Optional(String())))
	userPage, _ := Instantiate(page, user)

	tests := []struct {
		name    string
		typ     *Type
		raw     string
		wantErr bool
	}{
		{"string", String(), `"x"`, false},
		{"string mismatch", String(), `1`, true},
		{"integer", Integer(), `3`, false},
		{"integer fraction", Integer(), `3.5`, true},
		{"number", Number(), `3.5`, false},
		{"bool", Bool(), `true`, false},
		{"null ok", Null(), `null`, false},
		{"null mismatch", Null(), `0`, true},
		{"required null", String(), `null`, true},
		{"optional null", Optional(String()), `null`, false},
		{"array", Array(Integer()), `[1,2,3]`, false},
		{"array element", Array(Integer()), `[1,"2"]`, true},
		{"tuple", Tuple(String(), Bool()), `["a",true]`, false},
		{"tuple length", Tuple(String(), Bool()), `["a"]`, true},
		{"map", Map(Bool()), `{"a":true}`, false},
		{"map value", Map(Bool()), `{"a":1}`, true},
		{"object", user, `{"id":"1","age":30}`, false},
		{"object missing", user, `{"id":"1"}`, true},
		{"object optional present", user, `{"id":"1","age":1,"nick":"n"}`, false},
		{"unknown accepts anything", Unknown(), `{"x":[1]}`, false},
		{"generic bound", userPage, `{"items":[{"id":"1","age":1}],"next":null}`, false},
		{"generic bound mismatch", userPage, `{"items":[{"id":1,"age":1}],"next":null}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.typ.Validate(decode(t, tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFields_CollectsAll(t *testing.T) {
	fields := []Field{F("name", String()), F("age", Integer()), Opt("tags", Array(String()))}
	data := decode(t, `{"name": 7}`).(map[string]any)

	err := ValidateFields(fields, data)
	errs := ValidationErrors(err)
	if len(errs) != 2 {
		t.Fatalf("ValidationErrors() len = %d, want 2 (%v)", len(errs), err)
	}

	var vErr *ValidationError
	if !errors.As(errs[0], &vErr) || vErr.Key != "name" {
		t.Errorf("first error = %v, want field name", errs[0])
	}
	if !strings.Contains(errs[1].Error(), "required") {
		t.Errorf("second error = %v, want required", errs[1])
	}
}

func TestValidatePositional(t *testing.T) {
	fields := []Field{F("name", String()), Opt("age", Integer())}

	if err := ValidatePositional(fields, []any{"bob"}); err != nil {
		t.Errorf("trailing optional omitted: error = %v", err)
	}
	if err := ValidatePositional(fields, []any{"bob", 1.0, true}); err == nil {
		t.Error("too many params: error = nil")
	}
	if err := ValidatePositional(fields, []any{}); err == nil {
		t.Error("missing required: error = nil")
	}
}

func TestValidationError_String(t *testing.T) {
	err := &ValidationError{Key: "age", Reason: "required"}
	if got := err.Error(); got != `field "age": required` {
		t.Errorf("Error() = %q", got)
	}

	err = &ValidationError{Key: "age", Reason: "expected integer", Value: "x"}
	if got := err.Error(); got != `field "age": expected integer (got string)` {
		t.Errorf("Error() = %q", got)
	}
}

func TestAggregateError_String(t *testing.T) {
	single := &AggregateError{Errors: []error{errors.New("one")}}
	if single.Error() != "one" {
		t.Errorf("single Error() = %q", single.Error())
	}

	multi := &AggregateError{Errors: []error{errors.New("one"), errors.New("two")}}
	if !strings.HasPrefix(multi.Error(), "2 validation errors") {
		t.Errorf("multi Error() = %q", multi.Error())
	}

	if got := ValidationErrors(fmt.Errorf("params: %w", single)); len(got) != 1 {
		t.Errorf("ValidationErrors(wrapped) = %v, want 1 error", got)
	}
	if ValidationErrors(errors.New("plain")) != nil {
		t.Error("ValidationErrors(plain) should be nil")
	}
}
