package overlay

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/pkg/errors"
	"github.com/topomesh/surveyd/pkg/logtrace"
	"github.com/topomesh/surveyd/pkg/utils"
)

// maxQueuedPerNode bounds undelivered messages per destination so a flooding
// sender cannot grow the hub without limit.
const maxQueuedPerNode = 1024

var errQueueFull = errors.New("loopback: destination queue full")

type delivery struct {
	from    identity.NodeID
	to      identity.NodeID
	payload []byte
}

// Loopback is an in-process transport hub. Every node registers a handler;
// sends encode through the real wire codec and queue until the hub is
// cranked, which keeps delivery deterministic for tests and simulation.
type Loopback struct {
	mu       sync.Mutex
	handlers map[identity.NodeID]HandlerFunc
	queue    []delivery
	inFlight map[identity.NodeID]int
}

func NewLoopback() *Loopback {
	return &Loopback{
		handlers: make(map[identity.NodeID]HandlerFunc),
		inFlight: make(map[identity.NodeID]int),
	}
}

// Register installs the delivery handler for a node.
func (l *Loopback) Register(id identity.NodeID, h HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[id] = h
}

// Endpoint returns the Transport a node sends through, stamped with its
// identity as the delivery source.
func (l *Loopback) Endpoint(from identity.NodeID) Transport {
	return &loopbackEndpoint{hub: l, from: from}
}

type loopbackEndpoint struct {
	hub  *Loopback
	from identity.NodeID
}

func (e *loopbackEndpoint) Send(ctx context.Context, to identity.NodeID, msg *Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}

	d := delivery{from: e.from, to: to, payload: payload}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), 3), ctx)
	return backoff.Retry(func() error {
		return e.hub.enqueue(d)
	}, bo)
}

func (l *Loopback) enqueue(d delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[d.to] >= maxQueuedPerNode {
		return errQueueFull
	}
	l.inFlight[d.to]++
	l.queue = append(l.queue, d)
	return nil
}

// Crank delivers the oldest queued message. Returns false when the queue is
// empty. Messages to unregistered nodes are dropped, matching an unreachable
// peer on a real transport.
func (l *Loopback) Crank(ctx context.Context) bool {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return false
	}
	d := l.queue[0]
	l.queue = l.queue[1:]
	l.inFlight[d.to]--
	h := l.handlers[d.to]
	l.mu.Unlock()

	if h == nil {
		logtrace.Debug(ctx, "Dropping message to unreachable node", logtrace.Fields{
			logtrace.FieldModule: "overlay",
			logtrace.FieldNodeID: d.to.String(),
		})
		return true
	}

	msg, err := Decode(bytes.NewReader(d.payload))
	if err != nil {
		logtrace.Warn(ctx, "Dropping undecodable message", logtrace.Fields{
			logtrace.FieldModule: "overlay",
			logtrace.FieldError:  err.Error(),
			"payload_hash":       utils.GetHashFromBytes(d.payload),
		})
		return true
	}
	h(ctx, d.from, msg)
	return true
}

// Settle cranks until no messages remain or the context is done, and returns
// the number of deliveries made. Handlers may enqueue further messages; they
// are drained in the same call.
func (l *Loopback) Settle(ctx context.Context) int {
	delivered := 0
	for ctx.Err() == nil && l.Crank(ctx) {
		delivered++
	}
	return delivered
}

// QueuedMessages reports how many deliveries are pending.
func (l *Loopback) QueuedMessages() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
