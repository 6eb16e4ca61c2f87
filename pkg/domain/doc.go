/*
Package domain contains the core wire and error models shared by every Tendril component.

It defines the operation kinds, the JSON-RPC 2.0 envelopes, the structured RpcError
returned to clients, and the per-call transport Metadata handed to context derivation.
This package is kept pure and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - Kind: Query, Mutation or Subscription.
  - RpcError: the structured {code, message, data} error sent on the wire.
  - Request / Response / Notification: JSON-RPC 2.0 envelopes.
  - Metadata: transport facts about the current call (headers, remote address, values).
  - CloseNotice: the final control message of a subscription.
*/
package domain
