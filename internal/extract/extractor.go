// Package extract drives decoding of capture records and routes decoded
// frames to the reassembly engines and the output sink, in strict capture
// order, optionally overlapping decode work across a bounded worker pool.
package extract

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/xuacker/capkit/internal/core"
	"github.com/xuacker/capkit/internal/log"
	"github.com/xuacker/capkit/internal/reassembly"
	"github.com/xuacker/capkit/internal/sink"
)

// State is the pipeline lifecycle position.
type State int

const (
	StateCreated State = iota
	StateHeaderRead
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHeaderRead:
		return "header-read"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type decodeJob struct {
	num  int
	data []byte
	ci   gopacket.CaptureInfo
}

// Extractor is the extraction pipeline. It is driven from a single
// goroutine; in parallel mode decode fans out to workers while analysis
// (flow-table writes, history, sink emission) stays serialized in capture
// order behind the gate.
type Extractor struct {
	opts Options
	log  log.Logger

	src Source
	out sink.Sink
	dec *frameDecoder

	state    State
	frameNum int
	frames   []*core.Frame

	ipv4 *reassembly.IPReassembler
	ipv6 *reassembly.IPReassembler
	tcp  *reassembly.TCPReassembler

	g       *gate
	jobs    chan decodeJob
	results chan *core.Frame
	wg      sync.WaitGroup
	stopped atomic.Bool

	// decodeHook, when set, runs after a worker decodes a record and
	// before it queues at the gate. Tests use it to skew worker timing.
	decodeHook func(num int)
}

// New builds an extractor. Sink resolution happens here so that an
// unsupported output format fails before any record is touched.
func New(opts Options) (*Extractor, error) {
	opts.applyDefaults()
	out, err := sink.New(opts.OutputFormat, opts.OutputPath)
	if err != nil {
		return nil, err
	}
	e := &Extractor{
		opts:  opts,
		log:   log.GetLogger().WithField("component", "extract"),
		out:   out,
		state: StateCreated,
	}
	if opts.EnableIPv4 {
		e.ipv4 = reassembly.NewIPv4(opts.StrictReassembly)
	}
	if opts.EnableIPv6 {
		e.ipv6 = reassembly.NewIPv6(opts.StrictReassembly)
	}
	if opts.EnableTCP {
		e.tcp = reassembly.NewTCP(opts.StrictReassembly)
	}
	return e, nil
}

// Open validates the capture file, decodes its global header and moves
// the pipeline to streaming. With auto_drain set it also runs to
// end-of-input before returning.
func (e *Extractor) Open(path string) error {
	if e.state != StateCreated {
		return fmt.Errorf("%w: open in state %s", core.ErrIllegalState, e.state)
	}
	src, err := openFile(path)
	if err != nil {
		return err
	}
	e.src = src
	e.state = StateHeaderRead

	header := map[string]any{
		"link_type": src.LinkType().String(),
		"snaplen":   src.Snaplen(),
	}
	if err := e.out.Emit("Global Header", header); err != nil {
		e.log.WithError(err).Warn("sink emit failed for global header")
	}
	e.log.WithFields(map[string]interface{}{
		"file":      path,
		"link_type": src.LinkType().String(),
	}).Info("capture opened")

	e.state = StateStreaming
	if e.opts.Parallel {
		e.startParallel()
	} else {
		e.dec = newFrameDecoder(src.LinkType())
	}

	if e.opts.AutoDrain {
		return e.RunToCompletion()
	}
	return nil
}

// Next returns the next frame in strictly increasing frame-number order.
// End-of-input (including a record decode failure, which is treated the
// same way) is reported as io.EOF.
func (e *Extractor) Next() (*core.Frame, error) {
	switch e.state {
	case StateStreaming:
	case StateDraining:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: next in state %s", core.ErrIllegalState, e.state)
	}

	if e.opts.Parallel {
		frame, ok := <-e.results
		if !ok {
			e.finish()
			return nil, io.EOF
		}
		e.frameNum = frame.Number
		return frame, nil
	}

	data, ci, err := e.src.ReadRecord()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			e.log.WithError(err).Debug("record read failure treated as end-of-input")
		}
		e.finish()
		return nil, io.EOF
	}
	frame, err := e.dec.Decode(data, ci, e.frameNum+1)
	if err != nil {
		e.log.WithError(err).Debug("decode failure treated as end-of-input")
		e.finish()
		return nil, io.EOF
	}
	e.frameNum++
	e.analyze(frame)
	return frame, nil
}

// RunToCompletion iterates to end-of-input, discarding frames. Useful
// when only the side effects are wanted: history, reassembly, sink output.
func (e *Extractor) RunToCompletion() error {
	for {
		if _, err := e.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Close releases the input source and the sink. Idempotent; only the
// transition to closed happens once.
func (e *Extractor) Close() error {
	if e.state == StateClosed {
		return nil
	}
	if e.state == StateStreaming {
		if e.opts.Parallel {
			e.stopped.Store(true)
			e.g.abort()
			go func() {
				for range e.results {
				}
			}()
			e.wg.Wait()
		}
		e.finish()
	}
	var err error
	if e.src != nil {
		err = e.src.Close()
	}
	if cerr := e.out.Close(); err == nil {
		err = cerr
	}
	e.state = StateClosed
	return err
}

// finish performs pipeline teardown after end-of-input: joins outstanding
// workers, optionally flushes partial reassembly state, and leaves the
// pipeline draining.
func (e *Extractor) finish() {
	if e.state != StateStreaming {
		return
	}
	if e.opts.Parallel {
		e.wg.Wait()
	}
	if e.opts.FlushOnDrain {
		for _, n := range []int{flushIPv4(e), flushIPv6(e), flushTCP(e)} {
			if n > 0 {
				e.log.Debugf("flushed %d partial flows at end-of-input", n)
			}
		}
	}
	e.state = StateDraining
}

func flushIPv4(e *Extractor) int {
	if e.ipv4 == nil {
		return 0
	}
	return len(e.ipv4.FlushPartial())
}

func flushIPv6(e *Extractor) int {
	if e.ipv6 == nil {
		return 0
	}
	return len(e.ipv6.FlushPartial())
}

func flushTCP(e *Extractor) int {
	if e.tcp == nil {
		return 0
	}
	return len(e.tcp.FlushPartial())
}

// analyze runs the ordered half of frame processing. In parallel mode it
// is only ever invoked by the worker holding the gate's turn, so the flow
// tables and history see mutations in capture order without locks.
func (e *Extractor) analyze(frame *core.Frame) {
	if e.log.IsDebugEnabled() {
		e.log.Debugf(" - Frame %3d: %s", frame.Number, frame.ProtoChain())
	}

	if err := e.out.Emit(fmt.Sprintf("Frame %d", frame.Number), frame.Document()); err != nil {
		e.log.WithError(err).Warn("sink emit failed")
	}

	if e.ipv4 != nil {
		if frag, ok := ipv4Fragment(frame); ok {
			if _, err := e.ipv4.Submit(frag); err != nil {
				e.log.WithError(err).Warn("ipv4 flow dropped")
			}
		}
	}
	if e.ipv6 != nil {
		if frag, ok := ipv6Fragment(frame); ok {
			if _, err := e.ipv6.Submit(frag); err != nil {
				e.log.WithError(err).Warn("ipv6 flow dropped")
			}
		}
	}
	if e.tcp != nil {
		if seg, ok := tcpSegment(frame); ok {
			if _, err := e.tcp.Submit(seg); err != nil {
				e.log.WithError(err).Warn("tcp flow dropped")
			}
		}
	}

	if e.opts.StoreHistory {
		e.frames = append(e.frames, frame)
	}
}

// startParallel spins up the worker pool and the record dispatcher.
// Workers are fed raw records round-robin; each decodes independently,
// then queues at the gate so analysis happens in capture order.
func (e *Extractor) startParallel() {
	e.g = newGate(1)
	e.jobs = make(chan decodeJob)
	e.results = make(chan *core.Frame, e.opts.Workers)
	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	go e.dispatch()
	go func() {
		e.wg.Wait()
		close(e.results)
	}()
}

// dispatch reads raw records sequentially and hands them to the pool.
// Reading is cheap relative to decoding, so a single reader keeps the
// record framing trivially correct while the pool does the CPU work.
func (e *Extractor) dispatch() {
	defer close(e.jobs)
	num := 0
	for !e.stopped.Load() {
		data, ci, err := e.src.ReadRecord()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.log.WithError(err).Debug("record read failure treated as end-of-input")
			}
			return
		}
		num++
		e.jobs <- decodeJob{num: num, data: data, ci: ci}
	}
}

func (e *Extractor) worker() {
	defer e.wg.Done()
	dec := newFrameDecoder(e.src.LinkType())
	for job := range e.jobs {
		frame, err := dec.Decode(job.data, job.ci, job.num)
		if e.decodeHook != nil {
			e.decodeHook(job.num)
		}
		if e.g.wait(job.num) {
			if err != nil {
				// A decode failure ends the whole pipeline, exactly like
				// end-of-input. Later frames are released, not analyzed.
				e.log.WithError(err).Debug("decode failure treated as end-of-input")
				e.stopped.Store(true)
				e.g.abort()
			} else {
				e.analyze(frame)
				e.results <- frame
			}
		}
		e.g.done()
	}
}

// Frames returns retained history; fails unless store_history was set.
func (e *Extractor) Frames() ([]*core.Frame, error) {
	if !e.opts.StoreHistory {
		return nil, fmt.Errorf("%w: store_history disabled", core.ErrIllegalState)
	}
	return e.frames, nil
}

// Length reports how many frames have been extracted so far.
func (e *Extractor) Length() int { return e.frameNum }

func (e *Extractor) State() State { return e.state }

// LinkType is only meaningful once the global header has been read.
func (e *Extractor) LinkType() layers.LinkType {
	if e.src == nil {
		return layers.LinkTypeNull
	}
	return e.src.LinkType()
}

// IPv4 exposes the IPv4 engine for result polling; nil when disabled.
func (e *Extractor) IPv4() *reassembly.IPReassembler { return e.ipv4 }

// IPv6 exposes the IPv6 engine for result polling; nil when disabled.
func (e *Extractor) IPv6() *reassembly.IPReassembler { return e.ipv6 }

// TCP exposes the TCP engine for result polling; nil when disabled.
func (e *Extractor) TCP() *reassembly.TCPReassembler { return e.tcp }
