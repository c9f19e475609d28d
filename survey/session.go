package survey

import (
	"time"

	"github.com/google/uuid"

	"github.com/topomesh/surveyd/identity"
)

// SessionState is the surveyor-side session lifecycle.
type SessionState int

const (
	// SessionIdle means no survey round is outstanding.
	SessionIdle SessionState = iota
	// SessionActive means a round is collecting answers.
	SessionActive
)

// session is the surveyor's ephemeral state for one survey round: the set of
// queried nodes, the answers so far, and the session keypair responses are
// encrypted to. It is owned by exactly one Manager and mutated only under
// its lock.
type session struct {
	state     SessionState
	nonce     uuid.UUID
	key       *ResponseKey
	startedAt time.Time
	deadline  time.Time

	queried map[identity.NodeID]struct{}
	results Results
}

func newSession() *session {
	return &session{
		state:   SessionIdle,
		queried: make(map[identity.NodeID]struct{}),
		results: make(Results),
	}
}

// activate starts a fresh round, discarding the previous round's targets and
// answers. Results survive expiry and explicit stop; only a new round
// clears them.
func (s *session) activate(now time.Time, duration time.Duration, key *ResponseKey) {
	s.state = SessionActive
	s.nonce = uuid.New()
	s.key = key
	s.startedAt = now
	s.deadline = now.Add(duration)
	s.queried = make(map[identity.NodeID]struct{})
	s.results = make(Results)
}

// expireIfDue flips an overdue session back to idle. Collected results stay
// readable.
func (s *session) expireIfDue(now time.Time) {
	if s.state == SessionActive && now.After(s.deadline) {
		s.state = SessionIdle
	}
}

// addTarget adds a node to the query set. Returns false when the node was
// already queried this round; re-adding never resets the deadline.
func (s *session) addTarget(id identity.NodeID) bool {
	if _, ok := s.queried[id]; ok {
		return false
	}
	s.queried[id] = struct{}{}
	s.results[id] = nil
	return true
}

// recordResponse merges one decoded answer. Returns false for nodes never
// queried this round and for duplicate answers; the merge is idempotent.
func (s *session) recordResponse(id identity.NodeID, body *TopologyResponseBody) bool {
	if _, ok := s.queried[id]; !ok {
		return false
	}
	if s.results[id] != nil {
		return false
	}
	s.results[id] = body
	return true
}

// snapshot returns a copy of the aggregate: every queried node mapped to its
// topology or nil.
func (s *session) snapshot() Results {
	out := make(Results, len(s.results))
	for id, body := range s.results {
		out[id] = body
	}
	return out
}
