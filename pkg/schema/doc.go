// Package schema describes the wire shape of operation parameters and results.
//
// A Type is a small structural model (primitives, arrays, tuples, maps, optionals,
// named and generic objects) that the code generator walks to emit client types.
// Types can be built explicitly or reflected from Go types:
//
//	user := schema.Named("User",
//	    schema.F("id", schema.String()),
//	    schema.F("age", schema.Integer()),
//	    schema.Opt("friends", schema.Array(schema.Param("T"))),
//	)
//
//	t := schema.Of[User]() // equivalent shape, derived from json tags
//
// Generic definitions are declared once and applied with Instantiate:
//
//	page := schema.Generic("Page", []string{"T"},
//	    schema.F("items", schema.Array(schema.Param("T"))),
//	)
//	users, _ := schema.Instantiate(page, user)
//
// The same model validates generically decoded JSON before it is bound to Go
// values, so clients receive every field error at once:
//
//	err := schema.ValidateFields(fields, map[string]any{"id": 42})
//	for _, e := range schema.ValidationErrors(err) {
//	    // field "id": expected string, got float64
//	}
//
// Reflection follows encoding/json: json tag names, omitempty fields are
// optional, pointers are nullable, []byte and TextMarshalers are strings. A Go
// type may override its shape by implementing Typer.
package schema
