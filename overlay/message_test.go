package overlay

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topomesh/surveyd/identity"
)

func newTestIDs(t *testing.T) (identity.NodeID, identity.NodeID) {
	t.Helper()
	a, err := identity.NewSeed()
	require.NoError(t, err)
	b, err := identity.NewSeed()
	require.NoError(t, err)
	return a.NodeID(), b.NodeID()
}

func TestEncodeDecodeSurveyRequest(t *testing.T) {
	surveyor, surveyed := newTestIDs(t)
	req := &SurveyRequest{
		SurveyorID:   surveyor,
		SurveyedID:   surveyed,
		SessionNonce: uuid.New(),
		LedgerNum:    42,
		AuthTag:      []byte("tag"),
	}
	msg := &Message{Type: SurveyRequestMessage, Data: req, CorrelationID: "corr-1"}

	wire, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(wire))
	require.NoError(t, err)
	assert.Equal(t, SurveyRequestMessage, decoded.Type)
	assert.Equal(t, "corr-1", decoded.CorrelationID)

	got, ok := decoded.Data.(*SurveyRequest)
	require.True(t, ok)
	assert.Equal(t, req.SurveyorID, got.SurveyorID)
	assert.Equal(t, req.SurveyedID, got.SurveyedID)
	assert.Equal(t, req.SessionNonce, got.SessionNonce)
	assert.Equal(t, req.SigningDigest(), got.SigningDigest())
}

func TestEncodeRejectsOversizedEncryptedBody(t *testing.T) {
	surveyor, surveyed := newTestIDs(t)
	resp := &SurveyResponse{
		SurveyorID:    surveyor,
		SurveyedID:    surveyed,
		SessionNonce:  uuid.New(),
		EncryptedBody: make([]byte, MaxEncryptedBodyLen+1),
	}
	_, err := Encode(&Message{Type: SurveyResponseMessage, Data: resp})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestEncodeRejectsMismatchedType(t *testing.T) {
	surveyor, surveyed := newTestIDs(t)
	req := &SurveyRequest{SurveyorID: surveyor, SurveyedID: surveyed}
	_, err := Encode(&Message{Type: SurveyResponseMessage, Data: req})
	assert.Error(t, err)
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	wire := make([]byte, 16)
	// Header claims a payload far above the wire cap.
	wire[0] = 0xff
	wire[1] = 0xff
	wire[2] = 0xff
	wire[3] = 0x7f
	_, err := Decode(bytes.NewReader(wire))
	assert.Error(t, err)
}

func TestRelayDigestsDiffer(t *testing.T) {
	surveyor, surveyed := newTestIDs(t)
	nonce := uuid.New()
	req := &SurveyRequest{SurveyorID: surveyor, SurveyedID: surveyed, SessionNonce: nonce}
	resp := &SurveyResponse{SurveyorID: surveyor, SurveyedID: surveyed, SessionNonce: nonce}

	assert.NotEqual(t, req.RelayDigest(), resp.RelayDigest())

	other := &SurveyRequest{SurveyorID: surveyed, SurveyedID: surveyor, SessionNonce: nonce}
	assert.NotEqual(t, req.RelayDigest(), other.RelayDigest())
}

func TestResponseRelayDigestCoversBody(t *testing.T) {
	surveyor, surveyed := newTestIDs(t)
	nonce := uuid.New()
	genuine := &SurveyResponse{
		SurveyorID:    surveyor,
		SurveyedID:    surveyed,
		SessionNonce:  nonce,
		EncryptedBody: []byte("sealed answer"),
	}
	forged := &SurveyResponse{
		SurveyorID:    surveyor,
		SurveyedID:    surveyed,
		SessionNonce:  nonce,
		EncryptedBody: bytes.Repeat([]byte{0x42}, 128),
	}

	// Same addressing triple, different bodies: the forgery must not share
	// the genuine answer's flood identity.
	assert.NotEqual(t, genuine.RelayDigest(), forged.RelayDigest())

	dup := &SurveyResponse{
		SurveyorID:    surveyor,
		SurveyedID:    surveyed,
		SessionNonce:  nonce,
		EncryptedBody: []byte("sealed answer"),
	}
	assert.Equal(t, genuine.RelayDigest(), dup.RelayDigest())
}
