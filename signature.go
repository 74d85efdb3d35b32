package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// signaturePrefix is the literal prefix carried in X-Webhook-Signature.
const signaturePrefix = "sha256="

// canonicalJSON serializes a payload as JSON with sorted object keys and no
// extraneous whitespace, so that signer and verifier agree on the exact bytes
// regardless of how the payload was built.
func canonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// Round-trip through an untyped value: encoding/json emits map keys in
	// sorted order, which normalizes struct field order as well. UseNumber
	// keeps numbers out of float64 so integers beyond 2^53 re-emit their
	// exact digits.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Sign computes the lowercase-hex HMAC-SHA256 of the canonical JSON form of
// payload, keyed by secret.
func Sign(payload any, secret string) (string, error) {
	body, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks an X-Webhook-Signature header value against a fresh
// signature of the payload. The header must carry the "sha256=" prefix; the
// hex digests are compared in constant time. Any failure to parse or sign
// yields false, never an error.
func VerifySignature(payload any, signatureHeader, secret string) bool {
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}
	received := strings.TrimPrefix(signatureHeader, signaturePrefix)
	expected, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(received), []byte(expected))
}

// MatchesEventType reports whether an event type matches any of the
// subscribed patterns: an exact type, a single-level wildcard such as
// "document.*", or the bare wildcard "*".
//
// Note that Broadcast only queries the store for the exact type and the
// single-level wildcard of the event's namespace; a subscription carrying
// only "*" is accepted by this predicate but is not selected at broadcast
// time.
func MatchesEventType(eventType string, patterns []string) bool {
	for _, pattern := range patterns {
		switch {
		case pattern == "*":
			return true
		case strings.HasSuffix(pattern, ".*"):
			prefix := strings.TrimSuffix(pattern, ".*")
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
		case pattern == eventType:
			return true
		}
	}
	return false
}

// wildcardPattern returns the single-level wildcard for an event type's
// namespace: "document.added" -> "document.*".
func wildcardPattern(eventType string) string {
	namespace, _, _ := strings.Cut(eventType, ".")
	return namespace + ".*"
}
