package store

import (
	"strings"
	"unicode"
)

// PartitionKey derives the storage partition for a peer id. The mapping is
// deterministic: case folding plus substitution of every non-alphanumeric
// rune with '_'. Peer ids differing only in case or punctuation share a
// partition, which is the intended normalization. Empty and unicode ids are
// valid inputs.
func PartitionKey(peerID string) string {
	var b strings.Builder
	b.Grow(len(peerID))
	for _, r := range peerID {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
