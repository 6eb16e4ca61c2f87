// Package observability exposes the Prometheus instruments shared by the
// dispatch engine, the subscription manager and the worker pool.
//
// Every method on a nil *Metrics is a no-op, so components can hold an
// optional metrics hook without branching at each call site.
package observability
