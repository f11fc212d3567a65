// ABOUTME: Webhook signature verification for inbound payloads
// ABOUTME: Computes HMAC-SHA256 over the raw body and compares in constant time

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature reports whether header carries a valid HMAC-SHA256
// signature of body under secret, in the "sha256=<hex>" format the
// messaging platform sends in X-Hub-Signature-256.
//
// The HMAC is computed over the raw request bytes; a re-serialized form is
// not guaranteed byte-identical. An empty secret disables verification and
// always allows; callers are expected to log that posture at startup.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(header))
}
