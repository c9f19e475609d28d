// Package sim runs a multi-node survey network in one process over the
// loopback transport. Tests and the demo mode drive it by adding
// connections, issuing surveys, and cranking the simulated clock until
// message flow settles.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/overlay"
	"github.com/topomesh/surveyd/pkg/errors"
	"github.com/topomesh/surveyd/survey"
)

// NodeConfig describes one simulated node.
type NodeConfig struct {
	// OverlayVersion the node advertises; defaults to the survey minimum.
	OverlayVersion uint32
	// VersionStr reported in topology answers.
	VersionStr string
	// SurveyorKeys restricts which surveyors this node answers or relays,
	// by node index. Empty means no allow-list restriction.
	SurveyorKeys []int
	// Archiver, when set, receives the node's decoded answers.
	Archiver survey.Archiver
}

// Node is one simulated participant.
type Node struct {
	Seed    *identity.Seed
	Manager *survey.Manager

	peers  *overlay.PeerTable
	quorum *quorumSet
}

// ID returns the node's overlay identity.
func (n *Node) ID() identity.NodeID {
	return n.Seed.NodeID()
}

// PeerCount reports the node's live connection count.
func (n *Node) PeerCount() int {
	return n.peers.Count()
}

// quorumSet is a static transitive-quorum oracle.
type quorumSet struct {
	members map[identity.NodeID]struct{}
}

func (q *quorumSet) IsInTransitiveQuorum(id identity.NodeID) bool {
	_, ok := q.members[id]
	return ok
}

// Network wires the simulated nodes over one loopback hub with a shared
// simulated clock.
type Network struct {
	ExpectedRoundDuration time.Duration

	hub   *overlay.Loopback
	nodes []*Node

	versions    []uint32
	versionStrs []string

	clockMu sync.Mutex
	now     time.Time
}

// NewNetwork builds a network of len(cfgs) nodes. Nodes start disconnected
// and with empty quorum sets; wire them with AddConnection and
// SetTransitiveQuorum before surveying.
func NewNetwork(cfgs []NodeConfig) (*Network, error) {
	net := &Network{
		ExpectedRoundDuration: time.Second,
		hub:                   overlay.NewLoopback(),
		now:                   time.Unix(1700000000, 0).UTC(),
	}

	// Seeds first: allow-lists reference other nodes by index.
	seeds := make([]*identity.Seed, len(cfgs))
	for i := range cfgs {
		seed, err := identity.NewSeed()
		if err != nil {
			return nil, err
		}
		seeds[i] = seed
	}

	net.versions = make([]uint32, len(cfgs))
	net.versionStrs = make([]string, len(cfgs))
	for i, cfg := range cfgs {
		net.versions[i] = cfg.OverlayVersion
		if net.versions[i] == 0 {
			net.versions[i] = survey.MinOverlayVersionForSurvey
		}
		net.versionStrs[i] = cfg.VersionStr
	}

	for i, cfg := range cfgs {
		auth := survey.Authorization{}
		if len(cfg.SurveyorKeys) > 0 {
			auth.SurveyorKeys = make(map[identity.NodeID]struct{}, len(cfg.SurveyorKeys))
			for _, idx := range cfg.SurveyorKeys {
				if idx < 0 || idx >= len(seeds) {
					return nil, errors.Errorf("surveyor key index %d out of range", idx)
				}
				auth.SurveyorKeys[seeds[idx].NodeID()] = struct{}{}
			}
		}

		node := &Node{
			Seed:   seeds[i],
			peers:  overlay.NewPeerTable(),
			quorum: &quorumSet{members: make(map[identity.NodeID]struct{})},
		}

		manager, err := survey.NewManager(survey.Config{
			Seed:                  seeds[i],
			Auth:                  auth,
			Quorum:                node.quorum,
			Transport:             net.hub.Endpoint(seeds[i].NodeID()),
			Peers:                 node.peers,
			OverlayVersion:        net.versions[i],
			ExpectedRoundDuration: net.ExpectedRoundDuration,
			Archiver:              cfg.Archiver,
			Now:                   net.Now,
		})
		if err != nil {
			return nil, err
		}
		node.Manager = manager
		net.hub.Register(node.ID(), manager.HandleMessage)
		net.nodes = append(net.nodes, node)
	}

	return net, nil
}

// Node returns the i-th node.
func (n *Network) Node(i int) *Node {
	return n.nodes[i]
}

// Now is the simulated clock.
func (n *Network) Now() time.Time {
	n.clockMu.Lock()
	defer n.clockMu.Unlock()
	return n.now
}

// SetTransitiveQuorum installs the same trusted set on every node: the named
// node indices plus the node itself.
func (n *Network) SetTransitiveQuorum(indices ...int) {
	for _, node := range n.nodes {
		members := make(map[identity.NodeID]struct{}, len(indices)+1)
		members[node.ID()] = struct{}{}
		for _, idx := range indices {
			members[n.nodes[idx].ID()] = struct{}{}
		}
		node.quorum.members = members
	}
}

// AddConnection links from→to: the connection is outbound on from and
// inbound on to, mirroring one real overlay connection.
func (n *Network) AddConnection(from, to int) {
	n.nodes[from].peers.AddOutbound(n.peerEntry(to))
	n.nodes[to].peers.AddInbound(n.peerEntry(from))
}

func (n *Network) peerEntry(idx int) overlay.Peer {
	return overlay.Peer{
		ID:               n.nodes[idx].ID(),
		OverlayVersion:   n.versions[idx],
		VersionStr:       n.versionStrs[idx],
		SecondsConnected: 60,
	}
}

// CrankForSurvey advances the clock by one throttle window and settles all
// in-flight messages, mirroring how an operator waits out a survey round.
func (n *Network) CrankForSurvey(ctx context.Context) {
	n.CrankFor(ctx, time.Duration(survey.ThrottleTimeoutMult)*n.ExpectedRoundDuration)
}

// CrankFor advances the simulated clock by d and delivers messages until the
// network is quiet.
func (n *Network) CrankFor(ctx context.Context, d time.Duration) {
	n.clockMu.Lock()
	n.now = n.now.Add(d)
	n.clockMu.Unlock()
	n.hub.Settle(ctx)
}
