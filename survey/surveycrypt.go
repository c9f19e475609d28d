package survey

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"

	"golang.org/x/crypto/nacl/box"

	"github.com/topomesh/surveyd/overlay"
	"github.com/topomesh/surveyd/pkg/errors"
)

// Ciphertext layout: ephemeral curve25519 public key, random nonce, sealed
// box. A fresh ephemeral key per response means only the surveyor's session
// key can open it, and responses to the same surveyor never share key
// material.
const (
	ephemeralKeyLen = 32
	nonceLen        = 24
	sealOverhead    = ephemeralKeyLen + nonceLen + box.Overhead
)

// ResponseKey is the surveyor's per-session curve25519 keypair. Its public
// half rides in every request of the session; responders encrypt to it.
type ResponseKey struct {
	pub  *[32]byte
	priv *[32]byte
}

// NewResponseKey generates a fresh session keypair.
func NewResponseKey() (*ResponseKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Errorf("generate response key: %w", err)
	}
	return &ResponseKey{pub: pub, priv: priv}, nil
}

// Public returns the public half carried in survey requests.
func (k *ResponseKey) Public() [32]byte {
	return *k.pub
}

func encodeBody(body *TopologyResponseBody) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return nil, errors.Errorf("encode topology body: %w", err)
	}
	return buf.Bytes(), nil
}

// Seal encrypts body to the surveyor's session public key. It fails, and
// never truncates, if the result would exceed the fixed response ceiling:
// overflow here means the worst-case sizing is wrong, not that the input is
// merely unlucky.
func Seal(recipient [32]byte, body *TopologyResponseBody) ([]byte, error) {
	if err := body.Validate(); err != nil {
		return nil, err
	}
	plaintext, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if len(plaintext)+sealOverhead > overlay.MaxEncryptedBodyLen {
		return nil, errors.Errorf("topology body %d bytes cannot fit encryption ceiling %d", len(plaintext), overlay.MaxEncryptedBodyLen)
	}

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Errorf("generate ephemeral key: %w", err)
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(plaintext)+sealOverhead)
	out = append(out, ephPub[:]...)
	out = append(out, nonce[:]...)
	out = box.Seal(out, plaintext, &nonce, &recipient, ephPriv)
	if len(out) > overlay.MaxEncryptedBodyLen {
		return nil, errors.Errorf("encrypted body %d bytes exceeds ceiling %d", len(out), overlay.MaxEncryptedBodyLen)
	}
	return out, nil
}

// Open decrypts a response body with the session key. Any corruption,
// truncation, or foreign ciphertext yields an error the caller treats as
// "no answer"; it never panics.
func Open(key *ResponseKey, ciphertext []byte) (*TopologyResponseBody, error) {
	if len(ciphertext) > overlay.MaxEncryptedBodyLen {
		return nil, errors.Errorf("encrypted body %d bytes exceeds ceiling %d", len(ciphertext), overlay.MaxEncryptedBodyLen)
	}
	if len(ciphertext) < sealOverhead {
		return nil, errors.New("encrypted body too short")
	}

	var ephPub [ephemeralKeyLen]byte
	copy(ephPub[:], ciphertext[:ephemeralKeyLen])
	var nonce [nonceLen]byte
	copy(nonce[:], ciphertext[ephemeralKeyLen:ephemeralKeyLen+nonceLen])

	plaintext, ok := box.Open(nil, ciphertext[ephemeralKeyLen+nonceLen:], &nonce, &ephPub, key.priv)
	if !ok {
		return nil, errors.New("decrypt survey response failed")
	}

	body := &TopologyResponseBody{}
	if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(body); err != nil {
		return nil, errors.Errorf("decode topology body: %w", err)
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}
	return body, nil
}
