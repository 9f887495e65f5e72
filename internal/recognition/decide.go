package recognition

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/models"
)

// DefaultUnknownPrefix is the number of leading embedding components hashed
// into an unknown face's label.
const DefaultUnknownPrefix = 5

const unknownPrefix = "Unknown_"

// Decide resolves the identity of one embedding against the cache.
// The closest entry wins (ties go to the earliest entry) when it lies within
// the engine's threshold; anything else is labelled with its fingerprint.
func Decide(c *Cache, emb models.Embedding, eng engine.Engine, prefix int) models.IdentityDecision {
	best := -1
	bestDist := math.Inf(1)
	anyMatch := false
	for i, e := range c.Entries() {
		d := eng.Distance(emb, e.Embedding)
		if engine.Matches(eng, d) {
			anyMatch = true
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}

	if anyMatch && best >= 0 && engine.Matches(eng, bestDist) {
		return models.IdentityDecision{
			Label:    c.entries[best].Label,
			Known:    true,
			Distance: bestDist,
		}
	}
	return models.IdentityDecision{Label: UnknownLabel(emb, prefix)}
}

// UnknownLabel returns "Unknown_<fingerprint>".
func UnknownLabel(emb models.Embedding, prefix int) string {
	return unknownPrefix + Fingerprint(emb, prefix)
}

// Fingerprint hashes the first prefix components of emb into six hex digits.
// It is stable for identical embeddings within a process and carries no
// identity across runs: a face seen again tomorrow yields a new embedding.
func Fingerprint(emb models.Embedding, prefix int) string {
	if prefix <= 0 {
		prefix = DefaultUnknownPrefix
	}
	if prefix > len(emb) {
		prefix = len(emb)
	}
	h := xxhash.New()
	var buf [4]byte
	for _, v := range emb[:prefix] {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = h.Write(buf[:])
	}
	return fmt.Sprintf("%016x", h.Sum64())[:6]
}
