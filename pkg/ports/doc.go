/*
Package ports defines the driven ports (interfaces) of Tendril.

These interfaces decouple the dispatch core from transports and storage.

# Key Interfaces

  - Sink: where a subscription delivers its notifications (HTTP SSE, WebSocket, in-process).
  - ManifestStore: where generated client bindings are persisted (memory, file, Redis).
*/
package ports
