package tendril

// Version is the release of this module, reported by the CLI and in
// generated OpenAPI documents.
const Version = "0.1.0"
