// Package overlay carries the survey wire messages and the transport
// abstractions the survey core consumes. Session establishment and the real
// peer-to-peer transport live outside this repository; the package ships a
// loopback transport for tests and in-process simulation.
package overlay

import (
	"sync"

	"github.com/topomesh/surveyd/identity"
)

// Peer is the connection metadata a node holds for one live peer. The survey
// responder reports these entries verbatim (bounded and truncated by the
// survey package before encoding).
type Peer struct {
	ID               identity.NodeID
	OverlayVersion   uint32
	VersionStr       string
	MessagesRead     uint64
	MessagesWritten  uint64
	BytesRead        uint64
	BytesWritten     uint64
	SecondsConnected uint64
}

// PeerProvider exposes a node's live connectivity to the survey core.
type PeerProvider interface {
	InboundPeers() []Peer
	OutboundPeers() []Peer
}

// PeerTable is a mutable PeerProvider: the overlay layer records connections
// as they come and go, the survey core reads a consistent snapshot.
type PeerTable struct {
	mu       sync.Mutex
	inbound  []Peer
	outbound []Peer
}

func NewPeerTable() *PeerTable {
	return &PeerTable{}
}

// AddInbound records a peer that connected to us.
func (t *PeerTable) AddInbound(p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbound = append(t.inbound, p)
}

// AddOutbound records a peer we connected to.
func (t *PeerTable) AddOutbound(p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outbound = append(t.outbound, p)
}

func (t *PeerTable) InboundPeers() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Peer(nil), t.inbound...)
}

func (t *PeerTable) OutboundPeers() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Peer(nil), t.outbound...)
}

// Count reports the number of live connections in either direction.
func (t *PeerTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbound) + len(t.outbound)
}

// ConnectedPeers returns the union of a provider's inbound and outbound
// peers, deduplicated by identity.
func ConnectedPeers(pp PeerProvider) []Peer {
	seen := make(map[identity.NodeID]struct{})
	var out []Peer
	for _, p := range pp.OutboundPeers() {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	for _, p := range pp.InboundPeers() {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
