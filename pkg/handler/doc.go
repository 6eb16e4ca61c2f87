/*
Package handler builds the immutable descriptors that describe each operation.

A Descriptor records an operation's name, kind, ordered parameters, result type,
context derivation and entry point. Type-specific decode and encode logic is bound
into the descriptor when it is constructed, so dispatch drives every operation
through the same uniform stages:

	get := handler.Query("get", ctxresolve.Identity[*App](),
	    func(ctx context.Context, app *App, p GetParams) (User, error) {
	        return app.Users.Find(ctx, p.ID)
	    },
	)

Parameters are the exported fields of the params struct, in declaration order.
Callers may pass them positionally (a JSON array) or by name (a JSON object).
*/
package handler
