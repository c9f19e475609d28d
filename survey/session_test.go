package survey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topomesh/surveyd/identity"
)

func newTestNodeID(t *testing.T) identity.NodeID {
	t.Helper()
	seed, err := identity.NewSeed()
	require.NoError(t, err)
	return seed.NodeID()
}

func activeTestSession(t *testing.T, now time.Time, duration time.Duration) *session {
	t.Helper()
	key, err := NewResponseKey()
	require.NoError(t, err)
	s := newSession()
	s.activate(now, duration, key)
	return s
}

func TestSessionLifecycle(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newSession()
	assert.Equal(t, SessionIdle, s.state)

	s = activeTestSession(t, now, time.Minute)
	assert.Equal(t, SessionActive, s.state)

	s.expireIfDue(now.Add(30 * time.Second))
	assert.Equal(t, SessionActive, s.state)

	s.expireIfDue(now.Add(2 * time.Minute))
	assert.Equal(t, SessionIdle, s.state)
}

func TestSessionAddTargetIsIdempotent(t *testing.T) {
	now := time.Unix(1000, 0)
	s := activeTestSession(t, now, time.Minute)
	target := newTestNodeID(t)

	assert.True(t, s.addTarget(target))
	assert.False(t, s.addTarget(target))

	snap := s.snapshot()
	require.Len(t, snap, 1)
	assert.Nil(t, snap[target])
}

func TestSessionRecordResponseIdempotent(t *testing.T) {
	now := time.Unix(1000, 0)
	s := activeTestSession(t, now, time.Minute)
	target := newTestNodeID(t)
	s.addTarget(target)

	first := &TopologyResponseBody{InboundPeers: PeerStatList{{VersionStr: "v1"}}}
	second := &TopologyResponseBody{InboundPeers: PeerStatList{{VersionStr: "v2"}}}

	assert.True(t, s.recordResponse(target, first))
	assert.False(t, s.recordResponse(target, second))

	snap := s.snapshot()
	require.NotNil(t, snap[target])
	assert.Equal(t, "v1", snap[target].InboundPeers[0].VersionStr)
}

func TestSessionRejectsUnsolicitedResponse(t *testing.T) {
	now := time.Unix(1000, 0)
	s := activeTestSession(t, now, time.Minute)

	stranger := newTestNodeID(t)
	assert.False(t, s.recordResponse(stranger, &TopologyResponseBody{}))
	assert.Empty(t, s.snapshot())
}

func TestSessionResultsSurviveExpiryUntilNewRound(t *testing.T) {
	now := time.Unix(1000, 0)
	s := activeTestSession(t, now, time.Minute)
	target := newTestNodeID(t)
	s.addTarget(target)
	s.recordResponse(target, &TopologyResponseBody{})

	s.expireIfDue(now.Add(time.Hour))
	assert.Equal(t, SessionIdle, s.state)
	assert.Len(t, s.snapshot(), 1)

	key, err := NewResponseKey()
	require.NoError(t, err)
	s.activate(now.Add(time.Hour), time.Minute, key)
	assert.Empty(t, s.snapshot())
}
