package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainMessage prefixes message id hashes. The version suffix allows the
// algorithm to change without colliding with old journal rows.
const DomainMessage = "attend/message/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data). The null byte keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MessageID computes the content-addressed id of a dispatched message. The
// same message at the same position of the same session always hashes to
// the same id, which makes journal writes idempotent.
func MessageID(sessionID string, seq int64, msg Message) (string, error) {
	obj := IRObject{
		"session": IRString(sessionID),
		"seq":     IRInt(seq),
		"message": msg.Canonical(),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("MessageID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMessage, canonical), nil
}

// MustMessageID is like MessageID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMessageID(sessionID string, seq int64, msg Message) string {
	id, err := MessageID(sessionID, seq, msg)
	if err != nil {
		panic(err)
	}
	return id
}
