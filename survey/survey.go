// Package survey implements the topology survey protocol: an authorized
// surveyor discovers the live connectivity graph of other nodes by flooding
// signed requests over the overlay and collecting encrypted answers only it
// can open.
package survey

import (
	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/overlay"
	"github.com/topomesh/surveyd/pkg/errors"
)

const (
	// MaxPeerStatVersionLen caps one peer's reported version string.
	MaxPeerStatVersionLen = 100

	// MaxPeerStatsPerList caps entries per direction in a topology answer.
	// Together with MaxPeerStatVersionLen it fixes the worst-case plaintext
	// the encryption ceiling is sized against.
	MaxPeerStatsPerList = 25

	// MinOverlayVersionForSurvey is the default minimum overlay protocol
	// version a peer must advertise to receive survey messages.
	MinOverlayVersionForSurvey = 17

	// ThrottleTimeoutMult is the default spacing between survey rounds,
	// as a multiple of the expected network round duration.
	ThrottleTimeoutMult = 3
)

// PeerStat is one observed connection of a surveyed node.
type PeerStat struct {
	NodeID           identity.NodeID
	VersionStr       string
	MessagesRead     uint64
	MessagesWritten  uint64
	BytesRead        uint64
	BytesWritten     uint64
	SecondsConnected uint64
}

// PeerStatList is an ordered, bounded sequence of peer stats.
type PeerStatList []PeerStat

// TopologyResponseBody is the plaintext of one survey answer.
type TopologyResponseBody struct {
	InboundPeers  PeerStatList
	OutboundPeers PeerStatList
}

// Validate enforces the protocol bounds on a decoded body. Consumers reject
// violating bodies; producers never emit them (see newPeerStat).
func (b *TopologyResponseBody) Validate() error {
	for _, list := range []PeerStatList{b.InboundPeers, b.OutboundPeers} {
		if len(list) > MaxPeerStatsPerList {
			return errors.Errorf("peer list has %d entries, maximum is %d", len(list), MaxPeerStatsPerList)
		}
		for _, stat := range list {
			if len(stat.VersionStr) > MaxPeerStatVersionLen {
				return errors.Errorf("peer version string %d bytes, maximum is %d", len(stat.VersionStr), MaxPeerStatVersionLen)
			}
		}
	}
	return nil
}

// newPeerStat converts connection metadata into a reportable stat,
// truncating the version string to the protocol bound.
func newPeerStat(p overlay.Peer) PeerStat {
	version := p.VersionStr
	if len(version) > MaxPeerStatVersionLen {
		version = version[:MaxPeerStatVersionLen]
	}
	return PeerStat{
		NodeID:           p.ID,
		VersionStr:       version,
		MessagesRead:     p.MessagesRead,
		MessagesWritten:  p.MessagesWritten,
		BytesRead:        p.BytesRead,
		BytesWritten:     p.BytesWritten,
		SecondsConnected: p.SecondsConnected,
	}
}

// buildTopology assembles the local node's answer from its live peers,
// capped to the list bound.
func buildTopology(pp overlay.PeerProvider) *TopologyResponseBody {
	body := &TopologyResponseBody{}
	for _, p := range pp.InboundPeers() {
		if len(body.InboundPeers) >= MaxPeerStatsPerList {
			break
		}
		body.InboundPeers = append(body.InboundPeers, newPeerStat(p))
	}
	for _, p := range pp.OutboundPeers() {
		if len(body.OutboundPeers) >= MaxPeerStatsPerList {
			break
		}
		body.OutboundPeers = append(body.OutboundPeers, newPeerStat(p))
	}
	return body
}
