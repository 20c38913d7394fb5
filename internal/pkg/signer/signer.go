// Package signer computes and verifies HMAC-SHA256 webhook signatures.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HeaderPrefix tags the algorithm in the signature header value.
const HeaderPrefix = "sha256="

// Sign returns the hex-encoded HMAC-SHA256 of payload keyed by secret.
// payload must be the exact bytes put on the wire.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the signature formatted for the X-Webhook-Signature header.
func Header(payload []byte, secret string) string {
	return HeaderPrefix + Sign(payload, secret)
}

// Verify reports whether signature matches payload under secret. Both the bare
// hex form and the "sha256=" header form are accepted.
func Verify(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), HeaderPrefix)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
