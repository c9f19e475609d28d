package survey

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/overlay"
)

type recordingTransport struct {
	sent []*overlay.Message
}

func (t *recordingTransport) Send(_ context.Context, _ identity.NodeID, msg *overlay.Message) error {
	t.sent = append(t.sent, msg)
	return nil
}

func newTestManager(t *testing.T, transport overlay.Transport) *Manager {
	t.Helper()
	seed, err := identity.NewSeed()
	require.NoError(t, err)
	mgr, err := NewManager(Config{
		Seed:      seed,
		Quorum:    NewStaticQuorum(seed.NodeID()),
		Transport: transport,
		Peers:     overlay.NewPeerTable(),
	})
	require.NoError(t, err)
	return mgr
}

func TestNewManagerRequiredFields(t *testing.T) {
	seed, err := identity.NewSeed()
	require.NoError(t, err)
	transport := &recordingTransport{}
	peers := overlay.NewPeerTable()
	quorum := NewStaticQuorum(seed.NodeID())

	cases := map[string]Config{
		"missing seed":      {Quorum: quorum, Transport: transport, Peers: peers},
		"missing quorum":    {Seed: seed, Transport: transport, Peers: peers},
		"missing transport": {Seed: seed, Quorum: quorum, Peers: peers},
		"missing peers":     {Seed: seed, Quorum: quorum, Transport: transport},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewManager(cfg)
			assert.Error(t, err)
		})
	}
}

func TestStartSurveyRejectsBadArguments(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, &recordingTransport{})
	target := newTestNodeID(t)

	assert.Error(t, mgr.StartSurvey(ctx, target, 0))
	assert.Error(t, mgr.StartSurvey(ctx, target, -time.Second))
	assert.Error(t, mgr.StartSurvey(ctx, identity.NodeID{}, time.Minute))
	assert.Equal(t, SessionIdle, mgr.State())
}

func TestStartSurveyActivatesSessionWithoutPeers(t *testing.T) {
	ctx := context.Background()
	transport := &recordingTransport{}
	mgr := newTestManager(t, transport)
	target := newTestNodeID(t)

	require.NoError(t, mgr.StartSurvey(ctx, target, time.Minute))
	assert.Equal(t, SessionActive, mgr.State())

	// No connected peers, so nothing went out; the target is still tracked
	// as queried-unanswered.
	assert.Empty(t, transport.sent)
	results := mgr.SurveyResults()
	require.Contains(t, results, target)
	assert.Nil(t, results[target])
}

func TestStartSurveyRejectsEarlyNewRoundWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	seed, err := identity.NewSeed()
	require.NoError(t, err)

	current := time.Unix(1700000000, 0).UTC()
	mgr, err := NewManager(Config{
		Seed:                  seed,
		Quorum:                NewStaticQuorum(seed.NodeID()),
		Transport:             &recordingTransport{},
		Peers:                 overlay.NewPeerTable(),
		ExpectedRoundDuration: time.Second,
		Now:                   func() time.Time { return current },
	})
	require.NoError(t, err)

	target := newTestNodeID(t)
	other := newTestNodeID(t)

	require.NoError(t, mgr.StartSurvey(ctx, target, time.Minute))
	mgr.StopSurvey(ctx)

	// A second fresh round inside the throttle window fails fast; the fake
	// clock never advances, so a blocking limiter would hang here forever.
	err = mgr.StartSurvey(ctx, other, time.Minute)
	require.ErrorIs(t, err, ErrRoundThrottled)
	assert.Equal(t, SessionIdle, mgr.State())

	current = current.Add(time.Duration(ThrottleTimeoutMult) * time.Second)
	require.NoError(t, mgr.StartSurvey(ctx, other, time.Minute))
	assert.Equal(t, SessionActive, mgr.State())
}

func TestForgedResponseDoesNotSuppressGenuineAnswer(t *testing.T) {
	ctx := context.Background()
	seed, err := identity.NewSeed()
	require.NoError(t, err)
	responder, err := identity.NewSeed()
	require.NoError(t, err)

	transport := &recordingTransport{}
	peers := overlay.NewPeerTable()
	peers.AddOutbound(overlay.Peer{ID: responder.NodeID(), OverlayVersion: MinOverlayVersionForSurvey})
	mgr, err := NewManager(Config{
		Seed:           seed,
		Quorum:         NewStaticQuorum(seed.NodeID()),
		Transport:      transport,
		Peers:          peers,
		OverlayVersion: MinOverlayVersionForSurvey,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.StartSurvey(ctx, responder.NodeID(), time.Minute))
	require.Len(t, transport.sent, 1)
	req := transport.sent[0].Data.(*overlay.SurveyRequest)

	// An intermediary that saw the request knows the full addressing triple;
	// it floods a garbage body under it before the real answer arrives.
	forged := &overlay.SurveyResponse{
		SurveyorID:    req.SurveyorID,
		SurveyedID:    req.SurveyedID,
		SessionNonce:  req.SessionNonce,
		EncryptedBody: bytes.Repeat([]byte{0x42}, 128),
	}
	mgr.HandleMessage(ctx, responder.NodeID(), &overlay.Message{
		Type: overlay.SurveyResponseMessage,
		Data: forged,
	})
	require.Nil(t, mgr.SurveyResults()[responder.NodeID()])

	body := &TopologyResponseBody{
		InboundPeers: PeerStatList{{NodeID: seed.NodeID(), VersionStr: "v1"}},
	}
	sealed, err := Seal(req.EncryptionKey, body)
	require.NoError(t, err)
	genuine := &overlay.SurveyResponse{
		SurveyorID:    req.SurveyorID,
		SurveyedID:    req.SurveyedID,
		SessionNonce:  req.SessionNonce,
		EncryptedBody: sealed,
	}
	mgr.HandleMessage(ctx, responder.NodeID(), &overlay.Message{
		Type: overlay.SurveyResponseMessage,
		Data: genuine,
	})

	got := mgr.SurveyResults()[responder.NodeID()]
	require.NotNil(t, got)
	assert.Equal(t, body.InboundPeers, got.InboundPeers)
}

func TestHandleMessageIgnoredBelowMinimumVersion(t *testing.T) {
	ctx := context.Background()
	seed, err := identity.NewSeed()
	require.NoError(t, err)
	transport := &recordingTransport{}
	mgr, err := NewManager(Config{
		Seed:           seed,
		Quorum:         NewStaticQuorum(seed.NodeID()),
		Transport:      transport,
		Peers:          overlay.NewPeerTable(),
		OverlayVersion: MinOverlayVersionForSurvey - 1,
	})
	require.NoError(t, err)

	surveyor, err := identity.NewSeed()
	require.NoError(t, err)
	key, err := NewResponseKey()
	require.NoError(t, err)
	req := &overlay.SurveyRequest{
		SurveyorID:    surveyor.NodeID(),
		SurveyedID:    seed.NodeID(),
		EncryptionKey: key.Public(),
	}
	req.AuthTag = surveyor.Sign(req.SigningDigest())

	mgr.HandleMessage(ctx, surveyor.NodeID(), &overlay.Message{
		Type: overlay.SurveyRequestMessage,
		Data: req,
	})
	assert.Empty(t, transport.sent)
}
