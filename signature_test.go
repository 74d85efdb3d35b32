package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_Deterministic(t *testing.T) {
	event := Event{
		EventType: "space.created",
		EventID:   "evt_abc",
		Timestamp: "2026-01-02T03:04:05Z",
		TenantID:  "t1",
		Data:      map[string]any{"id": "s1"},
	}

	first, err := Sign(event, "whsec_1")
	require.NoError(t, err)
	second, err := Sign(event, "whsec_1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64) // hex-encoded SHA-256
}

func TestSign_CanonicalizesKeyOrder(t *testing.T) {
	// The same logical payload built in different key orders must produce
	// the same digest.
	a := map[string]any{"b": 2.0, "a": 1.0, "nested": map[string]any{"y": "1", "x": "2"}}
	b := map[string]any{"nested": map[string]any{"x": "2", "y": "1"}, "a": 1.0, "b": 2.0}

	sigA, err := Sign(a, "secret")
	require.NoError(t, err)
	sigB, err := Sign(b, "secret")
	require.NoError(t, err)

	assert.Equal(t, sigA, sigB)
}

func TestCanonicalJSON_PreservesLargeIntegers(t *testing.T) {
	event := Event{
		EventType: "document.added",
		EventID:   "evt_1",
		Timestamp: "2026-01-02T03:04:05Z",
		TenantID:  "t1",
		// 2^53+1 is not representable as a float64 and would round if the
		// round-trip decoded numbers into one.
		Data: map[string]any{"sequence": int64(9007199254740993)},
	}

	body, err := canonicalJSON(event)
	require.NoError(t, err)
	assert.Contains(t, string(body), "9007199254740993")
}

func TestVerifySignature(t *testing.T) {
	event := Event{
		EventType: "document.added",
		EventID:   "evt_1",
		Timestamp: "2026-01-02T03:04:05Z",
		TenantID:  "t1",
		Data:      map[string]any{"doc": "d1"},
	}
	signature, err := Sign(event, "secret1")
	require.NoError(t, err)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, VerifySignature(event, "sha256="+signature, "secret1"))
	})

	t.Run("missing prefix", func(t *testing.T) {
		assert.False(t, VerifySignature(event, signature, "secret1"))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, VerifySignature(event, "sha256="+signature, "secret2"))
	})

	t.Run("mutated digest", func(t *testing.T) {
		for i := 0; i < len(signature); i++ {
			mutated := []byte(signature)
			if mutated[i] == '0' {
				mutated[i] = '1'
			} else {
				mutated[i] = '0'
			}
			assert.False(t, VerifySignature(event, "sha256="+string(mutated), "secret1"))
		}
	})

	t.Run("garbage header", func(t *testing.T) {
		assert.False(t, VerifySignature(event, "", "secret1"))
		assert.False(t, VerifySignature(event, "sha256=", "secret1"))
		assert.False(t, VerifySignature(event, "sha512="+signature, "secret1"))
	})
}

func TestMatchesEventType(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		patterns  []string
		want      bool
	}{
		{"exact match", "document.added", []string{"document.added"}, true},
		{"wildcard match", "document.added", []string{"document.*"}, true},
		{"bare wildcard", "query.failed", []string{"*"}, true},
		{"different namespace", "space.created", []string{"document.*"}, false},
		{"no partial prefix", "documents.added", []string{"document.*"}, false},
		{"empty patterns", "space.created", nil, false},
		{"mixed patterns", "query.completed", []string{"space.*", "query.completed"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesEventType(tt.eventType, tt.patterns))
		})
	}
}

func TestWildcardPattern(t *testing.T) {
	assert.Equal(t, "document.*", wildcardPattern("document.added"))
	assert.Equal(t, "space.*", wildcardPattern("space.created"))
	assert.Equal(t, "webhook.*", wildcardPattern("webhook.test"))
}
