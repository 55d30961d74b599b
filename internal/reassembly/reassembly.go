// Package reassembly rebuilds original IP datagrams and TCP byte streams
// from fragments observed across capture frames.
//
// Both engines keep a flow table keyed by a BUFID (the tuple identifying
// one logical flow) and use hole accounting in the spirit of RFC 815 to
// detect completion. They are purely reactive: state changes only inside
// Submit, there is no background sweep. Neither engine is safe for
// concurrent use; the extraction pipeline serializes all submissions.
package reassembly

// Result is one reassembled datagram or stream segment.
type Result struct {
	// Header holds the canonical IP header taken from the first fragment.
	// Always nil for TCP results.
	Header []byte

	// Payload is the reassembled byte content.
	Payload []byte

	// FrameIDs lists the capture frame numbers that contributed, in
	// submission order.
	FrameIDs []int

	// Completed is false only for partial results emitted by a forced
	// flush at end-of-input.
	Completed bool
}

// Stats counts engine activity since construction.
type Stats struct {
	ActiveFlows int
	Completed   uint64
	Rejected    uint64 // fragments dropped (capacity or malformed, non-strict)
	Clamped     uint64 // fragments tolerated by clamping in non-strict mode
	Duplicates  uint64
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
