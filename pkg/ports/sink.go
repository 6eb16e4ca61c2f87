package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Sink is the outbound half of a transport connection.
//
// Send must be safe for concurrent use; a connection shared by several
// subscriptions serialises writes itself. Done is closed once the peer is gone,
// after which Send is expected to fail.
type Sink interface {
	Send(ctx context.Context, n domain.Notification) error
	Done() <-chan struct{}
}
