package domain

import "errors"

// ErrDuplicateRoute is returned when two operations resolve to the same fully-qualified name.
var ErrDuplicateRoute = errors.New("duplicate route")

// ErrInvalidSegment is returned when a namespace segment is empty or contains the separator.
var ErrInvalidSegment = errors.New("invalid namespace segment")

// ErrDuplicateType is returned when two distinct type definitions share the same name.
var ErrDuplicateType = errors.New("duplicate type name")

// ErrContextMismatch is returned when a descriptor expects a different application context type.
var ErrContextMismatch = errors.New("application context type mismatch")

// ErrContextDerivation marks failures raised while deriving a handler context.
var ErrContextDerivation = errors.New("context derivation failed")

// ErrInvalidParams is returned when call parameters cannot be decoded.
var ErrInvalidParams = errors.New("invalid params")

// ErrMethodNotFound is returned when no operation is registered under a method name.
var ErrMethodNotFound = errors.New("method not found")

// ErrInvalidDescriptor is returned when a handler descriptor could not be constructed.
var ErrInvalidDescriptor = errors.New("invalid handler descriptor")

// ErrManifestNotFound is returned when a manifest name cannot be found in the store.
var ErrManifestNotFound = errors.New("manifest not found")

// ErrSubscriptionNotFound is returned when an unsubscribe names an unknown subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")
