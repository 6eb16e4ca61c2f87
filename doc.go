/*
Package tendril serves a tree of typed Go functions as a JSON-RPC 2.0 API and
publishes TypeScript bindings and an OpenAPI document describing it.

# Concept

Operations are plain Go functions wrapped by handler.Query, handler.Mutation
or handler.Subscription. Each carries a context derivation that turns the
application value and the request metadata into whatever the function needs
(an authenticated user, a database handle). A router.Router arranges the
operations into dotted namespaces, and the dispatch engine routes frames to
them. Subscriptions stream through `<method>_notif` notifications and are
cancelled with `<method>_unsub`.

The Server in this package composes the engine with the HTTP, SSE and
WebSocket transports, Prometheus metrics, and a manifest store.

# Usage

	r := router.New()
	self := ctxresolve.Identity[*App]()
	_ = r.Attach("users", handler.Query("get", self, getUser))

	srv, err := tendril.New(r, app, tendril.WithConfig(cfg), tendril.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	if err := srv.Publish(ctx); err != nil {
		log.Fatal(err)
	}
	log.Fatal(srv.ListenAndServe(ctx))

Clients import the generated bindings:

	export type Server = { users: { get: Query<[id: string], User | null>, }, };
*/
package tendril
