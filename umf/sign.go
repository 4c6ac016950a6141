package umf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature is returned by VerifySignature when the signature
// does not match the message under the given key.
var ErrInvalidSignature = errors.New("umf: invalid signature")

// signingPayload returns the byte sequence a signature is computed over:
// the short-form JSON encoding of a message carrying only to, from, mid
// and body.
// It deliberately excludes the signature field itself and anything set
// after signing (timestamps, via, forwardedHistory) so that re-signing
// a message that only changed in transit (e.g. had via appended) still
// validates against the original payload.
func signingPayload(m *Message) ([]byte, error) {
	body, err := MarshalShort(&Message{To: m.To, From: m.From, MID: m.MID, Body: m.Body})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Sign computes an HMAC-SHA256 signature over m's core fields (to, from,
// mid, body) using key, and stores it hex-encoded in m.Signature. This
// signs the envelope directly; it is not a JWT claim set, so it uses
// crypto/hmac rather than a JWT library.
func Sign(m *Message, key []byte) error {
	payload, err := signingPayload(m)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	m.Signature = hex.EncodeToString(mac.Sum(nil))
	return nil
}

// VerifySignature recomputes the HMAC over m's core fields and compares
// it against m.Signature in constant time, returning ErrInvalidSignature
// on mismatch or if no signature is present.
func VerifySignature(m *Message, key []byte) error {
	if m.Signature == "" {
		return ErrInvalidSignature
	}
	want, err := hex.DecodeString(m.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	payload, err := signingPayload(m)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	got := mac.Sum(nil)
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
