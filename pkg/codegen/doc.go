// Package codegen turns a router into client-facing artefacts.
//
// Generate walks every operation's parameter and result types once, records
// each named type definition in a deduplicated table and keeps the operation
// signatures in a namespace tree. The resulting Manifest renders TypeScript
// bindings or an OpenAPI document. All output is sorted, so two runs over the
// same router are byte-identical.
package codegen
