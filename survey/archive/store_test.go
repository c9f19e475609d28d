package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/survey"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	peerSeed, err := identity.NewSeed()
	require.NoError(t, err)
	rec := survey.ArchiveRecord{
		SessionNonce: "nonce-1",
		SurveyorID:   "surveyor",
		SurveyedID:   "surveyed",
		ReceivedAt:   time.Unix(1700000000, 0).UTC(),
		Topology: &survey.TopologyResponseBody{
			InboundPeers: survey.PeerStatList{{
				NodeID:           peerSeed.NodeID(),
				VersionStr:       "surveyd-1.0.0",
				MessagesRead:     12,
				SecondsConnected: 3600,
			}},
		},
	}
	require.NoError(t, store.SaveResult(ctx, rec))

	results, err := store.RecentResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "nonce-1", got.SessionNonce)
	assert.Equal(t, "surveyed", got.SurveyedID)
	assert.Equal(t, rec.ReceivedAt, got.ReceivedAt)
	require.Len(t, got.Topology.InboundPeers, 1)
	assert.Equal(t, peerSeed.NodeID().String(), got.Topology.InboundPeers[0].NodeID)
	assert.Equal(t, uint64(12), got.Topology.InboundPeers[0].MessagesRead)
	assert.Empty(t, got.Topology.OutboundPeers)
}

func TestRecentResultsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		rec := survey.ArchiveRecord{
			SessionNonce: "nonce",
			SurveyorID:   "surveyor",
			SurveyedID:   string(rune('a' + i)),
			ReceivedAt:   time.Unix(int64(1700000000+i), 0),
			Topology:     &survey.TopologyResponseBody{},
		}
		require.NoError(t, store.SaveResult(ctx, rec))
	}

	results, err := store.RecentResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c", results[0].SurveyedID)
	assert.Equal(t, "b", results[1].SurveyedID)
}

func TestSaveResultRejectsNilTopology(t *testing.T) {
	store := newTestStore(t)
	err := store.SaveResult(context.Background(), survey.ArchiveRecord{})
	assert.Error(t, err)
}
