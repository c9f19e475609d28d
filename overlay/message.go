package overlay

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/pkg/errors"
	"github.com/topomesh/surveyd/pkg/utils"
)

const (
	// SurveyRequestMessage asks the surveyed node for its peer lists
	SurveyRequestMessage = iota
	// SurveyResponseMessage carries the encrypted peer lists back
	SurveyResponseMessage
)

const (
	// MaxEncryptedBodyLen is the fixed capacity of an encrypted survey
	// response body. Any legal plaintext plus encryption overhead must fit;
	// the survey package verifies the worst case.
	MaxEncryptedBodyLen = 64000

	// maxWireMessageSize caps a whole encoded message, leaving headroom over
	// MaxEncryptedBodyLen for the envelope and gob type descriptors.
	maxWireMessageSize = 128 << 10
)

func init() {
	gob.Register(&SurveyRequest{})
	gob.Register(&SurveyResponse{})
}

// Message is the survey overlay envelope.
type Message struct {
	Type int         // the message type
	Data interface{} // the survey payload
	// CorrelationID carries a best-effort trace identifier so that logs
	// across nodes can be joined in external systems.
	CorrelationID string
}

func (m *Message) String() string {
	return fmt.Sprintf("type: %v, data type: %T", m.Type, m.Data)
}

// SurveyRequest asks the surveyed node to report its connectivity to the
// surveyor. Intermediaries relay it unmodified.
type SurveyRequest struct {
	SurveyorID identity.NodeID
	SurveyedID identity.NodeID
	// SessionNonce binds the request to one survey session on the surveyor.
	SessionNonce uuid.UUID
	// LedgerNum is the surveyor's ledger sequence when the round started.
	LedgerNum uint32
	// EncryptionKey is the surveyor's curve25519 public key for this session;
	// the responder encrypts its answer to it.
	EncryptionKey [32]byte
	// AuthTag is the surveyor's ed25519 signature over SigningDigest.
	AuthTag []byte
}

// SigningDigest returns the digest the surveyor signs and every hop verifies.
func (r *SurveyRequest) SigningDigest() []byte {
	buf := make([]byte, 0, 2*32+16+4+32)
	buf = append(buf, r.SurveyorID.Bytes()...)
	buf = append(buf, r.SurveyedID.Bytes()...)
	buf = append(buf, r.SessionNonce[:]...)
	buf = binary.BigEndian.AppendUint32(buf, r.LedgerNum)
	buf = append(buf, r.EncryptionKey[:]...)
	return utils.Blake3Hash(buf)
}

// RelayDigest identifies the request for duplicate suppression. It covers the
// same fields as the signing digest, so an adversary cannot mint fresh relay
// identities for a replayed request.
func (r *SurveyRequest) RelayDigest() []byte {
	return utils.Blake3Hash(append([]byte{SurveyRequestMessage}, r.SigningDigest()...))
}

// SurveyResponse carries the surveyed node's encrypted answer. Only the
// surveyor holds the key to open EncryptedBody.
type SurveyResponse struct {
	SurveyorID    identity.NodeID
	SurveyedID    identity.NodeID
	SessionNonce  uuid.UUID
	EncryptedBody []byte
}

// RelayDigest identifies the response for duplicate suppression. It covers
// the ciphertext as well as the addressing triple: the nonce travels in the
// clear, so a digest over the triple alone would let anyone who saw the
// request claim the seen-cache slot with a garbage body and suppress the
// genuine answer at every hop.
func (r *SurveyResponse) RelayDigest() []byte {
	buf := make([]byte, 0, 1+2*32+16+32)
	buf = append(buf, SurveyResponseMessage)
	buf = append(buf, r.SurveyorID.Bytes()...)
	buf = append(buf, r.SurveyedID.Bytes()...)
	buf = append(buf, r.SessionNonce[:]...)
	buf = append(buf, utils.Blake3Hash(r.EncryptedBody)...)
	return utils.Blake3Hash(buf)
}

// validate applies the structural bounds that hold for any legal message,
// sender and receiver side alike.
func (m *Message) validate() error {
	switch data := m.Data.(type) {
	case *SurveyRequest:
		if m.Type != SurveyRequestMessage {
			return errors.Errorf("message type %d does not match payload %T", m.Type, data)
		}
	case *SurveyResponse:
		if m.Type != SurveyResponseMessage {
			return errors.Errorf("message type %d does not match payload %T", m.Type, data)
		}
		if len(data.EncryptedBody) > MaxEncryptedBodyLen {
			return errors.Errorf("encrypted body %d bytes exceeds maximum %d", len(data.EncryptedBody), MaxEncryptedBodyLen)
		}
	default:
		return errors.Errorf("unknown payload type %T", m.Data)
	}
	return nil
}

// Encode builds the on-wire form: an 8-byte header carrying the uvarint
// payload length, followed by the gob payload.
func Encode(message *Message) ([]byte, error) {
	if err := message.validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(message); err != nil {
		return nil, errors.Errorf("encode message: %w", err)
	}
	if buf.Len() > maxWireMessageSize {
		return nil, errors.New("message size exceeds absolute maximum")
	}
	var header [8]byte
	binary.PutUvarint(header[:], uint64(buf.Len()))
	out := make([]byte, 0, len(header)+buf.Len())
	out = append(out, header[:]...)
	out = append(out, buf.Bytes()...)
	return out, nil
}

// Decode reads one message from conn, enforcing the size caps before any
// payload allocation.
func Decode(conn io.Reader) (*Message, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, errors.Errorf("read header: %w", err)
	}

	length, err := binary.ReadUvarint(bytes.NewBuffer(header))
	if err != nil {
		return nil, errors.Errorf("parse header length: %w", err)
	}
	if length > maxWireMessageSize {
		return nil, errors.New("message size exceeds absolute maximum")
	}

	lr := &io.LimitedReader{R: conn, N: int64(length)}
	dec := gob.NewDecoder(lr)
	msg := &Message{}
	if err := dec.Decode(msg); err != nil {
		return nil, errors.Errorf("decode message: %w", err)
	}
	// If gob didn't consume exactly 'length' bytes, drain the remainder to
	// keep the stream aligned.
	if lr.N > 0 {
		_, _ = io.CopyN(io.Discard, lr, lr.N)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
