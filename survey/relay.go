package survey

import (
	"context"
	"time"

	ristretto "github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/pkg/errors"
)

const (
	// Seen-cache bounds. Cost 1 per digest; an adversary replaying distinct
	// requests at line rate cannot grow the cache past the cost cap, and
	// duplicate suppression only needs to span one throttle window, well
	// under the TTL.
	seenCacheMaxCost  = 1 << 20
	seenCacheCounters = 10 * seenCacheMaxCost
	seenCacheTTL      = 10 * time.Minute

	broadcastConcurrency = 4
)

// relay holds the per-node flood-control state: which request/response
// digests were already handled or forwarded to which peer, and which survey
// round each surveyor currently has in flight.
type relay struct {
	seen   *ristretto.Cache[string, struct{}]
	rounds *gocache.Cache
	window time.Duration

	// nextRoundAt is the earliest time this node may originate a fresh
	// survey round. Guarded by the owning Manager's lock.
	nextRoundAt time.Time
}

// roundEntry tracks a surveyor's current round nonce plus the one it
// superseded, so stragglers of a replaced round stay dropped.
type roundEntry struct {
	current uuid.UUID
	retired uuid.UUID
}

func newRelay(window time.Duration) (*relay, error) {
	seen, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: seenCacheCounters,
		MaxCost:     seenCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Errorf("create seen cache: %w", err)
	}

	rounds := gocache.New(gocache.NoExpiration, 0)
	if window > 0 {
		rounds = gocache.New(window, 2*window)
	}

	return &relay{
		seen:   seen,
		rounds: rounds,
		window: window,
	}, nil
}

func seenKey(digest []byte, peer identity.NodeID) string {
	return string(digest) + string(peer.Bytes())
}

// markSent records that a message was forwarded to peer. Returns false when
// it already was, so relays never send the same flood twice down one edge.
func (r *relay) markSent(digest []byte, peer identity.NodeID) bool {
	return r.mark(seenKey(digest, peer))
}

// markProcessed records that this node handled a message. Returns false on
// duplicates.
func (r *relay) markProcessed(digest []byte) bool {
	return r.mark(string(digest))
}

func (r *relay) mark(key string) bool {
	if _, ok := r.seen.Get(key); ok {
		return false
	}
	r.seen.SetWithTTL(key, struct{}{}, 1, seenCacheTTL)
	// Ristretto admits asynchronously; waiting keeps suppression visible to
	// the very next message in the event loop.
	r.seen.Wait()
	return true
}

// admitRound decides whether a message belongs to a survey round this node
// is willing to process. At most one round per surveyor is tracked inside
// the throttle window; a newer round replaces the pending one
// (last-request-wins) and stragglers of the replaced round are dropped.
func (r *relay) admitRound(_ context.Context, surveyor identity.NodeID, nonce uuid.UUID) bool {
	key := surveyor.String()
	if v, ok := r.rounds.Get(key); ok {
		entry := v.(roundEntry)
		switch nonce {
		case entry.current:
			return true
		case entry.retired:
			return false
		default:
			r.rounds.SetDefault(key, roundEntry{current: nonce, retired: entry.current})
			return true
		}
	}
	r.rounds.SetDefault(key, roundEntry{current: nonce})
	return true
}

// admitNewRound decides, without blocking, whether this node may originate a
// fresh survey round at now. Rounds are spaced one throttle window apart; a
// too-early round is rejected outright and the operator reissues the command
// later, never queued.
func (r *relay) admitNewRound(now time.Time) bool {
	if r.window <= 0 {
		return true
	}
	if now.Before(r.nextRoundAt) {
		return false
	}
	r.nextRoundAt = now.Add(r.window)
	return true
}
