package survey

import "github.com/topomesh/surveyd/identity"

// Results is the queryable survey aggregate: every node queried in the
// current session mapped to its decoded topology, or nil when no valid
// answer has arrived. A nil entry is distinct from an absent key — absent
// means never queried.
type Results map[identity.NodeID]*TopologyResponseBody

// Answered returns how many queried nodes have a decoded topology.
func (r Results) Answered() int {
	n := 0
	for _, body := range r {
		if body != nil {
			n++
		}
	}
	return n
}
