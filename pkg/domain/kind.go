package domain

import (
	"encoding/json"
	"fmt"
)

// Kind tags an operation as side-effect-free, side-effect-ful or streaming.
type Kind int

const (
	KindQuery Kind = iota
	KindMutation
	KindSubscription
)

// String returns the tag used in generated signatures.
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "Query"
	case KindMutation:
		return "Mutation"
	case KindSubscription:
		return "Subscription"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalJSON encodes the kind as its tag.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// RequestKind is the semantic class a transport assigned to an inbound call.
// HTTP GET requests may only reach queries; POST and socket frames reach anything.
type RequestKind int

const (
	RequestAny RequestKind = iota
	RequestQuery
	RequestMutation
)

// Allows reports whether a call tagged with r may reach an operation of kind k.
func (r RequestKind) Allows(k Kind) bool {
	switch r {
	case RequestQuery:
		return k == KindQuery
	case RequestMutation:
		return k == KindMutation
	default:
		return true
	}
}
