/*
Package dispatch executes calls against a router.

An Engine indexes every operation of a router by its fully-qualified path once,
at construction, and then runs each call through the same pipeline:

	lookup -> decode params -> derive context -> invoke -> encode

Params arrive as a JSON array (positional, declaration order), a JSON object
(by name) or not at all. A decode failure is an invalid-params error and the
handler never runs. Serve wraps the pipeline in the JSON-RPC 2.0 envelope,
including batches, notifications and the subscribe/unsubscribe companions
registered for every subscription.
*/
package dispatch
