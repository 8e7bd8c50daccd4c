package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
)

// Key namespaces. The three prefixes keep the answer cache, the frontier
// entry and the per-document entries disjoint: no source identifier can
// produce a key in another namespace because the variable part is always
// a fixed-length hex digest.
const (
	answerPrefix   = "answer:"
	documentPrefix = "doc:"

	// FrontierKey is the single reserved key holding the current list of
	// candidate source links.
	FrontierKey = "frontier:latest"
)

// Fingerprint maps a (query, topK, threshold) triple to a stable hex
// digest. Equal triples always produce equal digests across restarts;
// distinct triples collide with cryptographically negligible probability.
//
// Each field is length-prefixed before hashing so a query containing a
// separator cannot alias a different triple.
func Fingerprint(query string, topK int, threshold float64) string {
	h := sha256.New()
	writeField(h, []byte(query))
	writeField(h, []byte(strconv.Itoa(topK)))
	writeField(h, []byte(strconv.FormatFloat(threshold, 'g', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, field []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(field)))
	h.Write(n[:])
	h.Write(field)
}

// AnswerKey builds the answer-cache key for a request fingerprint.
func AnswerKey(fingerprint string) string {
	return answerPrefix + fingerprint
}

// DocumentKey builds the per-document source-cache key for a source
// identifier (typically a URL). Hashing keeps arbitrary identifiers out
// of the key space while staying bijective in practice.
func DocumentKey(sourceID string) string {
	sum := sha256.Sum256([]byte(sourceID))
	return documentPrefix + hex.EncodeToString(sum[:])
}
