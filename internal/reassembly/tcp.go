package reassembly

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/xuacker/capkit/internal/core"
	"github.com/xuacker/capkit/internal/log"
)

// DefaultMaxStreamBytes bounds per-stream memory. Streams that grow past
// the cap reject further writes instead of truncating silently.
const DefaultMaxStreamBytes = 1 << 20

// TCPKey identifies one direction of a TCP connection.
type TCPKey struct {
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort uint16
	DstPort uint16
}

// TCPSegment is the engine's view of one captured TCP segment.
type TCPSegment struct {
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort uint16
	DstPort uint16

	Seq      uint32
	SYN      bool
	FIN      bool
	ACK      bool
	Ack      uint32
	Payload  []byte
	FrameNum int
}

func (s *TCPSegment) key() TCPKey {
	return TCPKey{Src: s.Src, Dst: s.Dst, SrcPort: s.SrcPort, DstPort: s.DstPort}
}

// span is a received byte interval [start, end), relative to the stream
// anchor.
type span struct {
	start, end int64
}

// tcpBuffer accumulates one direction of a connection. spans is the
// receipt map: sorted, disjoint intervals merged on insert; a gap between
// consecutive spans is a hole.
type tcpBuffer struct {
	anchor   uint32 // sequence number of stream byte 0
	finSet   bool
	finEnd   int64 // stream length once FIN observed
	spans    []span
	data     []byte
	closed   bool
	frameIDs []int
	segments int
}

// relative maps a sequence number onto a stream offset, tolerating
// 32-bit wraparound.
func (b *tcpBuffer) relative(seq uint32) int64 {
	return int64(int32(seq - b.anchor))
}

// insert merges [start, end) into the span list and reports whether the
// interval was already fully covered.
func (b *tcpBuffer) insert(start, end int64) (dup bool) {
	for _, s := range b.spans {
		if s.start <= start && end <= s.end {
			return true
		}
	}
	b.spans = append(b.spans, span{start, end})
	sort.Slice(b.spans, func(i, j int) bool { return b.spans[i].start < b.spans[j].start })
	merged := b.spans[:1]
	for _, s := range b.spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
		} else {
			merged = append(merged, s)
		}
	}
	b.spans = merged
	return false
}

// contiguous reports whether [0, n) has no holes.
func (b *tcpBuffer) contiguous(n int64) bool {
	if n == 0 {
		return true
	}
	return len(b.spans) > 0 && b.spans[0].start == 0 && b.spans[0].end >= n
}

func (b *tcpBuffer) result(completed bool) Result {
	end := b.finEnd
	if !b.finSet || !b.contiguous(b.finEnd) {
		// longest in-order prefix
		end = 0
		if len(b.spans) > 0 && b.spans[0].start == 0 {
			end = b.spans[0].end
		}
	}
	return Result{
		Payload:   cloneBytes(b.data[:end]),
		FrameIDs:  b.frameIDs,
		Completed: completed,
	}
}

// TCPReassembler reconstructs per-direction TCP byte streams. There is no
// declared total length; a stream completes when the hole list is empty
// from the anchor through an observed FIN. Overlapping segments are
// merged last-write-wins.
type TCPReassembler struct {
	strict   bool
	maxBytes int
	buffers  map[TCPKey]*tcpBuffer
	done     []Result
	stats    Stats
	log      log.Logger
}

func NewTCP(strict bool) *TCPReassembler {
	return &TCPReassembler{
		strict:   strict,
		maxBytes: DefaultMaxStreamBytes,
		buffers:  make(map[TCPKey]*tcpBuffer),
		log:      log.GetLogger().WithField("engine", "tcp"),
	}
}

// Submit merges one segment and returns the completed stream, if this
// segment closed it. At most one result is produced per call.
func (t *TCPReassembler) Submit(seg TCPSegment) ([]Result, error) {
	key := seg.key()
	buf := t.buffers[key]

	if buf != nil && buf.closed {
		if seg.SYN {
			// Same BUFID reused for a new connection instance.
			buf = nil
			delete(t.buffers, key)
		} else {
			t.stats.Duplicates++
			return nil, nil
		}
	}

	if buf == nil {
		buf = &tcpBuffer{anchor: seg.Seq}
		if seg.SYN {
			// SYN occupies one sequence number; payload starts after it.
			buf.anchor = seg.Seq + 1
		}
		t.buffers[key] = buf
	}

	start := buf.relative(seg.Seq)
	payload := seg.Payload
	if seg.SYN && seg.Seq+1 == buf.anchor {
		start = 0
	}
	if start < 0 {
		if t.strict {
			delete(t.buffers, key)
			return nil, fmt.Errorf("%w: frame %d sequence %d precedes stream anchor",
				core.ErrMalformedFragment, seg.FrameNum, seg.Seq)
		}
		// Clamp bytes before the anchor.
		if -start >= int64(len(payload)) {
			payload = nil
		} else {
			payload = payload[-start:]
		}
		start = 0
		t.stats.Clamped++
	}
	end := start + int64(len(payload))

	if end > int64(t.maxBytes) {
		t.stats.Rejected++
		if t.strict {
			delete(t.buffers, key)
			return nil, fmt.Errorf("%w: frame %d grows stream to %d bytes",
				core.ErrCapacityExceeded, seg.FrameNum, end)
		}
		t.log.WithField("frame", seg.FrameNum).Debug("segment exceeds stream cap, dropped")
		return nil, nil
	}

	buf.segments++
	buf.frameIDs = append(buf.frameIDs, seg.FrameNum)

	if len(payload) > 0 {
		if end > int64(len(buf.data)) {
			grown := make([]byte, end)
			copy(grown, buf.data)
			buf.data = grown
		}
		// Later arrivals overwrite earlier data on overlap.
		copy(buf.data[start:end], payload)
		if buf.insert(start, end) {
			t.stats.Duplicates++
		}
	}

	if seg.FIN {
		buf.finSet = true
		buf.finEnd = end
	}

	if buf.finSet && buf.contiguous(buf.finEnd) {
		buf.closed = true
		res := buf.result(true)
		t.stats.Completed++
		t.done = append(t.done, res)
		return []Result{res}, nil
	}
	return nil, nil
}

// DrainCompleted returns every result accumulated since the previous
// drain, in completion order, and clears the internal list.
func (t *TCPReassembler) DrainCompleted() []Result {
	done := t.done
	t.done = nil
	return done
}

// FlushPartial force-emits the in-order prefix of every open stream with
// Completed=false and empties the flow table. Closed streams that already
// produced a result are simply discarded.
func (t *TCPReassembler) FlushPartial() []Result {
	var out []Result
	for key, buf := range t.buffers {
		if !buf.closed && buf.segments > 0 {
			out = append(out, buf.result(false))
		}
		delete(t.buffers, key)
	}
	t.done = append(t.done, out...)
	return out
}

func (t *TCPReassembler) Stats() Stats {
	s := t.stats
	s.ActiveFlows = len(t.buffers)
	return s
}
