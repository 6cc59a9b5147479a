package output

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/lite-obs/media"
)

// State is the output's current lifecycle state (spec §4.10/§5).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateReconnecting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Callbacks mirrors the spec §6 callback surface fired by an output.
type Callbacks struct {
	Start            func()
	Starting         func()
	Stop             func(code StopCode, msg string)
	Stopping         func()
	Activate         func()
	Deactivate       func()
	Connected        func()
	Reconnect        func()
	ReconnectSuccess func()
	FirstMediaPacket func()
}

func (c Callbacks) fire(f func()) {
	if f != nil {
		f()
	}
}

// Backend is one wire protocol implementation (RTMP or MPEG-TS) that an
// Output drives through Connect/Send/Close.
type Backend interface {
	// Connect performs the blocking handshake/socket-open step (spec §5
	// "Connect/write operations... are synchronous and blocking").
	Connect(ctx context.Context) error
	// Send writes one interleaved packet to the wire.
	Send(p *media.EncoderPacket) error
	// Close tears down the connection.
	Close() error
}

// ReconnectPolicy configures spec §4.8's reconnection behavior.
type ReconnectPolicy struct {
	RetryMax int // 0 disables reconnection
	RetrySec time.Duration
}

// Output drives a Backend through its state machine: connect, stream
// packets from the interleaver's queue, and handle disconnect/reconnect
// or a graceful stop (spec §4.10, §5).
//
// The packet queue is a plain slice guarded by a mutex and a condition
// variable, matching spec §5's "every list<packet> queue is owned by
// exactly one producer thread and consumed under a single mutex" — a
// buffered channel can't express the RTMP backend's congestion-drop policy,
// which must inspect and prune arbitrary queue entries, not just the head.
type Output struct {
	log       *slog.Logger
	backend   Backend
	cb        Callbacks
	reconnect ReconnectPolicy

	// DropPolicy, if set, is applied to the queue after every Push,
	// allowing a backend (e.g. RTMP) to prune under congestion (spec §4.8).
	DropPolicy func([]*media.EncoderPacket) []*media.EncoderPacket

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	buf       []*media.EncoderPacket
	stopped   bool
	stopFired bool

	stopCh   chan struct{}
	stopOnce sync.Once
	stopTS   int64
	graceful bool
	doneCh   chan struct{}
}

const maxQueueDepth = 512

// New creates an Output around backend, ungated until Start is called.
func New(backend Backend, cb Callbacks, reconnect ReconnectPolicy, log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	o := &Output{
		log:       log.With("component", "output"),
		backend:   backend,
		cb:        cb,
		reconnect: reconnect,
		state:     StateIdle,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// State returns the output's current lifecycle state.
func (o *Output) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Output) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Start connects the backend and launches the sender goroutine (spec §5
// "Output sender thread" / "Output connect/reconnect thread"). It returns
// once the first connect attempt finishes, successfully or not.
func (o *Output) Start(ctx context.Context) error {
	o.cb.fire(o.cb.Starting)
	o.setState(StateConnecting)

	if err := o.backend.Connect(ctx); err != nil {
		o.setState(StateStopped)
		o.fireStop(stopCodeFor(err), err.Error())
		return err
	}

	o.setState(StateActive)
	o.cb.fire(o.cb.Start)
	o.cb.fire(o.cb.Connected)
	o.cb.fire(o.cb.Activate)

	go o.run(ctx)
	return nil
}

// Push enqueues a packet for the sender goroutine. After appending, if
// DropPolicy is set it is applied to the whole buffered list (spec §4.8
// congestion response); otherwise the oldest packet is dropped once the
// queue exceeds maxQueueDepth, as a generic back-pressure floor.
func (o *Output) Push(p *media.EncoderPacket) {
	o.mu.Lock()
	defer o.cond.Signal()
	defer o.mu.Unlock()

	if o.stopped {
		return
	}
	o.buf = append(o.buf, p)

	if o.DropPolicy != nil {
		o.buf = o.DropPolicy(o.buf)
		return
	}
	if len(o.buf) > maxQueueDepth {
		o.buf = o.buf[len(o.buf)-maxQueueDepth:]
	}
}

// pop blocks until a packet is available or the output is stopping,
// returning (nil, false) in the latter case with nothing left queued.
func (o *Output) pop() (*media.EncoderPacket, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.buf) == 0 && !o.stopped {
		o.cond.Wait()
	}
	if o.stopped {
		// Stop supersedes normal draining: whatever remains in the buffer
		// is handed to drain(), which applies the stop-ts cutoff (S6)
		// instead of being delivered unconditionally here.
		return nil, false
	}
	p := o.buf[0]
	o.buf = o.buf[1:]
	return p, true
}

// drainBuffered removes and returns every currently queued packet, for the
// graceful-stop drain (scenario S6).
func (o *Output) drainBuffered() []*media.EncoderPacket {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.buf
	o.buf = nil
	return out
}

// Stop requests the output to stop. ts == 0 is immediate (spec §5
// "stop_output(ts=0) is immediate"); ts > 0 is graceful, draining packets
// whose SysDTSUsec < ts or until a 30s wall-clock budget elapses.
func (o *Output) Stop(ts int64) {
	o.mu.Lock()
	o.stopTS = ts
	o.graceful = ts > 0
	o.mu.Unlock()

	o.cb.fire(o.cb.Stopping)
	o.setState(StateStopping)
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.mu.Lock()
		o.stopped = true
		o.mu.Unlock()
		o.cond.Broadcast()
	})
	<-o.doneCh
}

const shutdownBudget = 30 * time.Second

// run is the sender goroutine: drains the buffered queue, writing packets
// to the backend until told to stop (spec §5 "Output sender thread").
func (o *Output) run(ctx context.Context) {
	defer close(o.doneCh)
	defer o.backend.Close()

	firstPacket := true
	unblock := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.stopped = true
			o.mu.Unlock()
			o.cond.Broadcast()
		case <-unblock:
		}
	}()
	defer close(unblock)

	for {
		p, ok := o.pop()
		if !ok {
			break
		}
		o.sendOne(p, &firstPacket)
	}

	o.drain(&firstPacket)
	o.cb.fire(o.cb.Deactivate)
	o.fireStop(StopSuccess, "")
	o.setState(StateStopped)
}

// drain flushes remaining queued packets under a graceful stop deadline
// (spec §5 "drain packets whose sys_dts_usec < ts or until a 30s wall-clock
// budget elapses", scenario S6).
func (o *Output) drain(firstPacket *bool) {
	o.mu.Lock()
	stopTS := o.stopTS
	graceful := o.graceful
	o.mu.Unlock()
	if !graceful {
		return
	}

	deadline := time.Now().Add(shutdownBudget)
	for _, p := range o.drainBuffered() {
		if time.Now().After(deadline) {
			return
		}
		if p.SysDTSUsec >= stopTS {
			continue
		}
		o.sendOne(p, firstPacket)
	}
}

func (o *Output) sendOne(p *media.EncoderPacket, firstPacket *bool) {
	if err := o.backend.Send(p); err != nil {
		o.log.Warn("send failed", "error", err)
		o.handleSendError(err)
		return
	}
	if *firstPacket {
		*firstPacket = false
		o.cb.fire(o.cb.FirstMediaPacket)
	}
}

// handleSendError applies the reconnect policy on a disconnect-class error
// (spec §4.8 "Reconnection").
func (o *Output) handleSendError(err error) {
	if o.reconnect.RetryMax <= 0 {
		o.setState(StateStopped)
		o.terminate()
		o.fireStop(stopCodeFor(err), err.Error())
		return
	}

	o.setState(StateReconnecting)
	o.cb.fire(o.cb.Reconnect)

	for attempt := 1; attempt <= o.reconnect.RetryMax; attempt++ {
		select {
		case <-o.stopCh:
			return
		case <-time.After(o.reconnect.RetrySec):
		}

		if cerr := o.backend.Connect(context.Background()); cerr == nil {
			o.setState(StateActive)
			o.cb.fire(o.cb.ReconnectSuccess)
			return
		}
	}

	o.setState(StateStopped)
	o.terminate()
	o.fireStop(StopDisconnected, "reconnect retries exhausted")
}

// terminate marks the output stopped outside of the normal Stop() path, so
// a fatal send error unblocks a pop() waiter exactly the way an explicit
// Stop() would — without this, run()'s loop blocks in pop() forever after a
// terminal disconnect.
func (o *Output) terminate() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.cond.Broadcast()
}

// fireStop delivers the stop callback exactly once (spec §7 "stop callback
// fires exactly once"): a fatal send error and run()'s own end-of-loop
// completion both reach here, and whichever gets there first wins — run()'s
// loop exits right after a fatal error sets stopped, so without this guard
// its own unconditional StopSuccess call would fire a second, contradicting
// callback after handleSendError already reported the real failure code.
func (o *Output) fireStop(code StopCode, msg string) {
	o.mu.Lock()
	if o.stopFired {
		o.mu.Unlock()
		return
	}
	o.stopFired = true
	o.mu.Unlock()
	if o.cb.Stop != nil {
		o.cb.Stop(code, msg)
	}
}
