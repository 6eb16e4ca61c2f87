package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrParamsShape is returned when params are neither an array, an object nor absent.
var ErrParamsShape = errors.New("params must be an array or an object")

// DecodeParams binds a JSON-RPC params payload onto the struct pointed to by dst.
//
// An array binds positionally to the exported fields of dst in declaration order
// (embedded structs flattened), an object binds by json name, and an absent or
// null payload leaves dst at its zero value. Pointer params are allocated, so
// a *T param is never handed over nil.
func DecodeParams(c Codec, raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if rv := reflect.ValueOf(dst); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			alloc(rv.Elem())
		}
		return nil
	}

	switch trimmed[0] {
	case '{':
		return c.Unmarshal(trimmed, dst)
	case '[':
		return decodePositional(c, trimmed, dst)
	default:
		return ErrParamsShape
	}
}

// IsPositional reports whether raw is an array payload.
func IsPositional(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func decodePositional(c Codec, raw []byte, dst any) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode params: destination must be a non-nil pointer, got %T", dst)
	}
	targets := fieldValues(alloc(rv.Elem()))
	if len(items) > len(targets) {
		return fmt.Errorf("expected at most %d params, got %d", len(targets), len(items))
	}

	for i, item := range items {
		if err := c.Unmarshal(item, targets[i].Addr().Interface()); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}
	return nil
}

// alloc follows pointer params (a *T param arrives as **T) down to the value,
// allocating nil pointers on the way.
func alloc(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	return v
}

// fieldValues lists the settable wire fields of a struct value, matching the
// order schema.FieldsOf reports them in.
func fieldValues(v reflect.Value) []reflect.Value {
	if v.Kind() != reflect.Struct {
		return nil
	}
	var out []reflect.Value
	rt := v.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if sf.Anonymous && (tag == "" || tag[0] == ',') {
			fv := v.Field(i)
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					if !fv.CanSet() {
						continue
					}
					fv.Set(reflect.New(fv.Type().Elem()))
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				out = append(out, fieldValues(fv)...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		out = append(out, v.Field(i))
	}
	return out
}
