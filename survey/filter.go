package survey

import (
	"context"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/pkg/logtrace"
)

// QuorumOracle answers whether a node is inside the local node's transitive
// quorum closure. Quorum computation itself belongs to the consensus layer;
// the survey core only queries it.
type QuorumOracle interface {
	IsInTransitiveQuorum(id identity.NodeID) bool
}

// StaticQuorum is a fixed-membership QuorumOracle for deployments where the
// transitive closure is configured rather than computed.
type StaticQuorum map[identity.NodeID]struct{}

func NewStaticQuorum(members ...identity.NodeID) StaticQuorum {
	q := make(StaticQuorum, len(members))
	for _, id := range members {
		q[id] = struct{}{}
	}
	return q
}

func (q StaticQuorum) IsInTransitiveQuorum(id identity.NodeID) bool {
	_, ok := q[id]
	return ok
}

// Authorization is a node's immutable survey policy, fixed at construction.
type Authorization struct {
	// SurveyorKeys is the set of identities allowed to originate surveys this
	// node will answer or relay. An empty set imposes no allow-list
	// restriction; the quorum check still applies.
	SurveyorKeys map[identity.NodeID]struct{}
	// MinOverlayVersion is the overlay protocol version a peer must advertise
	// to receive survey messages at all.
	MinOverlayVersion uint32
	// ThrottleMult spaces survey rounds as a multiple of the expected
	// network round duration.
	ThrottleMult int
}

func (a Authorization) permitsSurveyor(id identity.NodeID) bool {
	if len(a.SurveyorKeys) == 0 {
		return true
	}
	_, ok := a.SurveyorKeys[id]
	return ok
}

// filter gates every inbound survey message before the node answers or
// relays. Both checks are local to this hop; failing either drops the
// message with nothing signaled to any peer.
type filter struct {
	auth   Authorization
	quorum QuorumOracle
}

func (f *filter) allow(ctx context.Context, surveyor identity.NodeID) bool {
	if !f.auth.permitsSurveyor(surveyor) {
		logtrace.Debug(ctx, "Dropping survey message, surveyor not authorized", logtrace.Fields{
			logtrace.FieldModule:     "survey",
			logtrace.FieldSurveyorID: surveyor.String(),
			logtrace.FieldReason:     "allow_list",
		})
		return false
	}
	if !f.quorum.IsInTransitiveQuorum(surveyor) {
		logtrace.Debug(ctx, "Dropping survey message, surveyor not in transitive quorum", logtrace.Fields{
			logtrace.FieldModule:     "survey",
			logtrace.FieldSurveyorID: surveyor.String(),
			logtrace.FieldReason:     "transitive_quorum",
		})
		return false
	}
	return true
}
