package overlay

import (
	"context"

	"github.com/topomesh/surveyd/identity"
)

// Transport delivers a message toward a node. Sends are fire-and-forget from
// the caller's perspective; the transport may itself relay through
// intermediaries and gives no delivery guarantee.
type Transport interface {
	Send(ctx context.Context, to identity.NodeID, msg *Message) error
}

// HandlerFunc receives messages delivered to a node.
type HandlerFunc func(ctx context.Context, from identity.NodeID, msg *Message)
