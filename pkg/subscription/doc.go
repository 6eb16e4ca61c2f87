/*
Package subscription runs the server side of streaming operations.

A Manager registers subscriptions and enforces the per-client and global
limits. Each Subscription moves through

	Pending -> Accepted -> Streaming -> Closing -> Closed

or Pending -> Rejected when the handler refuses it. Run forwards the items of
the accepted sequence to a ports.Sink through a bounded channel and finishes
with a close notice on the notification method:

	{"subscription": id, "result": {"close_stream": id, "count": n}}

The forwarding loop never blocks the dispatcher: the transport writes the
subscribe response first and only then starts Run.
*/
package subscription
