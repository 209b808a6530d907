package relay

import (
	"github.com/zeebo/blake3"

	"support-relay/internal/domain"
)

// fingerprint is the stable digest of a normalized message body. Collisions
// between unrelated texts are acceptable here; the environment is not
// adversarial and a false hit only suppresses one relayed comment.
type fingerprint [32]byte

func fingerprintOf(normalized string) fingerprint {
	return blake3.Sum256([]byte(normalized))
}

// FingerprintIndex is a lookup set of normalized-body fingerprints built from
// one side's full message history. It lives for a single reconciliation pass
// and is never persisted.
type FingerprintIndex map[fingerprint]struct{}

// NewFingerprintIndex fingerprints every message body, normalized through n.
// The entire history must be indexed, replies and parent alike: the original
// issue text and the relay's acknowledgement live among the first messages
// and their ticket-side echoes are excluded only because they are in here.
func NewFingerprintIndex(n *Normalizer, messages []domain.ChatMessage) FingerprintIndex {
	index := make(FingerprintIndex, len(messages))
	for _, msg := range messages {
		index[fingerprintOf(n.Normalize(msg.Body))] = struct{}{}
	}
	return index
}

// Has reports whether the given normalized text is already present.
func (ix FingerprintIndex) Has(normalized string) bool {
	_, ok := ix[fingerprintOf(normalized)]
	return ok
}
