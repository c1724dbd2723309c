// Package security verifies GitHub webhook delivery signatures.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// SignatureHeader is the header GitHub signs deliveries with.
	SignatureHeader = "X-Hub-Signature-256"

	// EventHeader names the event type of a delivery.
	EventHeader = "X-GitHub-Event"

	// DeliveryHeader carries GitHub's unique delivery id.
	DeliveryHeader = "X-GitHub-Delivery"

	signaturePrefix = "sha256="
)

// SignPayload generates the hex HMAC-SHA256 signature for a payload.
func SignPayload(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a delivery signature in GitHub's sha256=<hex>
// format. Uses constant-time comparison to prevent timing attacks.
func VerifySignature(secret string, payload []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, signaturePrefix)
	expected := SignPayload(secret, payload)
	return constantTimeEqual(expected, signature)
}

// VerifyRequest checks the signature header of an already-read request body.
func VerifyRequest(secret string, headers http.Header, body []byte) bool {
	signature := headers.Get(SignatureHeader)
	if signature == "" {
		return false
	}
	return VerifySignature(secret, body, signature)
}

func constantTimeEqual(a, b string) bool {
	aBytes, aErr := hex.DecodeString(a)
	bBytes, bErr := hex.DecodeString(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return subtle.ConstantTimeCompare(aBytes, bBytes) == 1
}
