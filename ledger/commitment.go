package ledger

import (
	"bytes"
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// EncodeReveal returns the canonical byte layout bound by a bid commitment:
// the amount as an 8-byte big-endian unsigned integer, followed by the raw
// UTF-8 bytes of the description, followed by the bidder's canonical
// serialization. Any implementation that doesn't reproduce this exact layout
// will produce commitments that fail verification here.
func EncodeReveal(amount uint64, description string, bidder BidderID) []byte {
	var buf bytes.Buffer
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], amount)
	buf.Write(amt[:])
	buf.WriteString(description)
	buf.Write(bidder.Bytes())
	return buf.Bytes()
}

// ComputeCommitment hashes the canonical reveal encoding with BLAKE3-256.
// The bidder identity is part of the hash input, so a revealed bid can't be
// attributed to a different bidder or replayed by a third party that
// observed the plaintext.
func ComputeCommitment(amount uint64, description string, bidder BidderID) []byte {
	sum := blake3.Sum256(EncodeReveal(amount, description, bidder))
	return sum[:]
}

// ValidCommitment reports whether c has the exact commitment length.
func ValidCommitment(c []byte) bool {
	return len(c) == CommitmentSize
}
