package reassembly

import (
	"fmt"
	"net/netip"

	"github.com/xuacker/capkit/internal/core"
	"github.com/xuacker/capkit/internal/log"
)

const (
	// maxDatagramSize caps the reassembled payload region per flow.
	maxDatagramSize = 65535

	// blockSize is the receipt-bitmap granularity. IP fragment offsets are
	// multiples of 8 bytes, so one bit per 8-byte block is exact.
	blockSize = 8

	numBlocks = (maxDatagramSize + blockSize - 1) / blockSize
)

// IPKey identifies one in-flight datagram: the classic BUFID tuple of
// source, destination, identification value and next-protocol number.
type IPKey struct {
	Src   netip.Addr
	Dst   netip.Addr
	ID    uint32
	Proto uint8
}

// IPFragment is the engine's view of one fragmented (or unfragmented)
// IP packet. Offset is a byte offset, already scaled from the wire's
// 8-byte units.
type IPFragment struct {
	Src   netip.Addr
	Dst   netip.Addr
	ID    uint32
	Proto uint8

	Offset        int // byte offset of this fragment's payload
	HeaderLen     int // IP header length in bytes
	TotalLen      int // header+payload length of this packet
	MoreFragments bool

	Header   []byte // raw IP header bytes
	Payload  []byte // raw payload bytes
	FrameNum int
}

func (f *IPFragment) key() IPKey {
	return IPKey{Src: f.Src, Dst: f.Dst, ID: f.ID, Proto: f.Proto}
}

// ipBuffer is the per-BUFID accumulation state.
type ipBuffer struct {
	totalLen  int // reassembled payload length; -1 until the terminal fragment
	highWater int // one past the highest byte written
	recvbt    []bool
	data      []byte
	header    []byte
	fragments int
	frameIDs  []int
}

func newIPBuffer() *ipBuffer {
	return &ipBuffer{
		totalLen: -1,
		recvbt:   make([]bool, numBlocks),
		data:     make([]byte, maxDatagramSize),
	}
}

// covered reports whether every 8-byte block of [0, n) has been received.
func (b *ipBuffer) covered(n int) bool {
	blocks := (n + blockSize - 1) / blockSize
	for i := 0; i < blocks; i++ {
		if !b.recvbt[i] {
			return false
		}
	}
	return true
}

func (b *ipBuffer) result(completed bool) Result {
	end := b.totalLen
	if end < 0 {
		end = b.highWater
	}
	return Result{
		Header:    cloneBytes(b.header),
		Payload:   cloneBytes(b.data[:end]),
		FrameIDs:  b.frameIDs,
		Completed: completed,
	}
}

// IPReassembler reassembles IPv4 or IPv6 datagrams from fragments. The
// two versions share the engine; only fragment extraction differs and
// that happens upstream in the extraction pipeline.
type IPReassembler struct {
	version int
	strict  bool
	buffers map[IPKey]*ipBuffer
	done    []Result
	stats   Stats
	log     log.Logger
}

func NewIPv4(strict bool) *IPReassembler { return newIP(4, strict) }
func NewIPv6(strict bool) *IPReassembler { return newIP(6, strict) }

func newIP(version int, strict bool) *IPReassembler {
	return &IPReassembler{
		version: version,
		strict:  strict,
		buffers: make(map[IPKey]*ipBuffer),
		log:     log.GetLogger().WithField("engine", fmt.Sprintf("ipv%d", version)),
	}
}

// Submit merges one fragment into the flow table and returns any results
// completed by this call. In strict mode a malformed fragment drops its
// flow and returns an error; the error is recoverable, later fragments
// for other flows are unaffected.
func (r *IPReassembler) Submit(frag IPFragment) ([]Result, error) {
	key := frag.key()

	// Unfragmented packet fast path: emit without buffering. If a stale
	// partial reassembly exists under the same BUFID, the partial buffer
	// wins and is emitted in its place, matching acceptance of the last
	// unfragmented packet over a conflicting reassembly in progress.
	if frag.Offset == 0 && !frag.MoreFragments && r.buffers[key] == nil {
		res := Result{
			Header:    cloneBytes(frag.Header),
			Payload:   cloneBytes(frag.Payload),
			FrameIDs:  []int{frag.FrameNum},
			Completed: true,
		}
		r.stats.Completed++
		r.done = append(r.done, res)
		return []Result{res}, nil
	}
	if frag.Offset == 0 && !frag.MoreFragments {
		buf := r.buffers[key]
		delete(r.buffers, key)
		res := buf.result(true)
		r.stats.Completed++
		r.done = append(r.done, res)
		return []Result{res}, nil
	}

	buf := r.buffers[key]
	if buf == nil {
		buf = newIPBuffer()
		r.buffers[key] = buf
	}

	declared := frag.TotalLen - frag.HeaderLen
	length := declared
	if declared < 0 || declared != len(frag.Payload) {
		if r.strict {
			delete(r.buffers, key)
			return nil, fmt.Errorf("%w: frame %d declares %d payload bytes, carries %d",
				core.ErrMalformedFragment, frag.FrameNum, declared, len(frag.Payload))
		}
		length = min(max(declared, 0), len(frag.Payload))
		r.stats.Clamped++
	}

	// The theoretical maximum itself is invalid: the IP header consumes
	// part of the 65535-byte packet limit, so no payload can reach it.
	if frag.Offset+length >= maxDatagramSize {
		r.stats.Rejected++
		if r.strict {
			delete(r.buffers, key)
			return nil, fmt.Errorf("%w: frame %d writes [%d,%d)",
				core.ErrCapacityExceeded, frag.FrameNum, frag.Offset, frag.Offset+length)
		}
		r.log.WithField("frame", frag.FrameNum).Debug("fragment exceeds datagram capacity, dropped")
		return nil, nil
	}

	copy(buf.data[frag.Offset:], frag.Payload[:length])
	if frag.Offset+length > buf.highWater {
		buf.highWater = frag.Offset + length
	}
	for i := frag.Offset / blockSize; i < (frag.Offset+length+blockSize-1)/blockSize; i++ {
		buf.recvbt[i] = true
	}

	if !frag.MoreFragments {
		tl := frag.Offset + length
		if tl < buf.highWater {
			if r.strict {
				delete(r.buffers, key)
				return nil, fmt.Errorf("%w: frame %d declares total %d below received %d",
					core.ErrMalformedFragment, frag.FrameNum, tl, buf.highWater)
			}
			r.stats.Clamped++
		}
		buf.totalLen = tl
	}
	if frag.Offset == 0 {
		buf.header = cloneBytes(frag.Header)
	}

	buf.fragments++
	buf.frameIDs = append(buf.frameIDs, frag.FrameNum)

	if buf.totalLen >= 0 && buf.covered(buf.totalLen) {
		delete(r.buffers, key)
		res := buf.result(true)
		r.stats.Completed++
		r.done = append(r.done, res)
		return []Result{res}, nil
	}
	return nil, nil
}

// DrainCompleted returns every result accumulated since the previous
// drain, in completion order, and clears the internal list.
func (r *IPReassembler) DrainCompleted() []Result {
	done := r.done
	r.done = nil
	return done
}

// FlushPartial force-emits every incomplete buffer with Completed=false
// and empties the flow table. Used at end-of-input.
func (r *IPReassembler) FlushPartial() []Result {
	if len(r.buffers) == 0 {
		return nil
	}
	out := make([]Result, 0, len(r.buffers))
	for key, buf := range r.buffers {
		out = append(out, buf.result(false))
		delete(r.buffers, key)
	}
	r.done = append(r.done, out...)
	return out
}

func (r *IPReassembler) Stats() Stats {
	s := r.stats
	s.ActiveFlows = len(r.buffers)
	return s
}
