package output

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/lite-obs/media"
)

type fakeBackend struct {
	mu          sync.Mutex
	sent        []*media.EncoderPacket
	connectErr  error
	connectCalls int
	sendErr     error
	closeCalled bool
}

func (f *fakeBackend) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeBackend) Send(p *media.EncoderPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalled = true
	return nil
}

func (f *fakeBackend) snapshot() []*media.EncoderPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*media.EncoderPacket(nil), f.sent...)
}

func TestOutputStartFiresLifecycleCallbacks(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{}
	var started, connected, activated bool
	cb := Callbacks{
		Start:     func() { started = true },
		Connected: func() { connected = true },
		Activate:  func() { activated = true },
	}
	o := New(backend, cb, ReconnectPolicy{}, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !started || !connected || !activated {
		t.Fatalf("expected Start/Connected/Activate callbacks fired, got %v %v %v", started, connected, activated)
	}
	if o.State() != StateActive {
		t.Fatalf("state = %v, want active", o.State())
	}
	o.Stop(0)
}

func TestOutputStartReportsConnectFailure(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{connectErr: ErrConnectFailed}
	var stopCode StopCode
	cb := Callbacks{Stop: func(code StopCode, msg string) { stopCode = code }}
	o := New(backend, cb, ReconnectPolicy{}, nil)
	if err := o.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if stopCode != StopConnectFailed {
		t.Fatalf("stop code = %v, want StopConnectFailed", stopCode)
	}
	if o.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", o.State())
	}
}

func TestOutputPushAppliesMaxQueueDepthFloor(t *testing.T) {
	t.Parallel()
	o := New(&fakeBackend{}, Callbacks{}, ReconnectPolicy{}, nil)
	for i := 0; i < maxQueueDepth+50; i++ {
		o.Push(&media.EncoderPacket{DTSUsec: int64(i)})
	}
	o.mu.Lock()
	n := len(o.buf)
	oldest := o.buf[0].DTSUsec
	o.mu.Unlock()
	if n != maxQueueDepth {
		t.Fatalf("queue depth = %d, want %d", n, maxQueueDepth)
	}
	if oldest != 50 {
		t.Fatalf("oldest surviving packet has DTSUsec %d, want 50 (the floor should drop the oldest)", oldest)
	}
}

func TestOutputDrainFiltersByStopTS(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{}
	o := New(backend, Callbacks{}, ReconnectPolicy{}, nil)

	o.mu.Lock()
	o.buf = []*media.EncoderPacket{
		{SysDTSUsec: 0},
		{SysDTSUsec: 1000},
		{SysDTSUsec: 2000}, // >= stopTS, must be discarded
		{SysDTSUsec: 3000}, // >= stopTS, must be discarded
	}
	o.stopTS = 2000
	o.graceful = true
	o.mu.Unlock()

	firstPacket := true
	o.drain(&firstPacket)

	sent := backend.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected 2 packets sent under the stop-ts cutoff, got %d", len(sent))
	}
	for _, p := range sent {
		if p.SysDTSUsec >= 2000 {
			t.Fatalf("sent packet with SysDTSUsec=%d, should have been cut off at 2000", p.SysDTSUsec)
		}
	}
}

func TestOutputDrainSkipsWhenNotGraceful(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{}
	o := New(backend, Callbacks{}, ReconnectPolicy{}, nil)

	o.mu.Lock()
	o.buf = []*media.EncoderPacket{{SysDTSUsec: 0}, {SysDTSUsec: 100}}
	o.graceful = false
	o.mu.Unlock()

	firstPacket := true
	o.drain(&firstPacket)

	if len(backend.snapshot()) != 0 {
		t.Fatal("expected an immediate (ts==0) stop to send nothing during drain")
	}
}

func TestOutputHandleSendErrorReconnectsOnSuccess(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{connectErr: errors.New("still down")}
	var reconnectFired, successFired bool
	cb := Callbacks{
		Reconnect:        func() { reconnectFired = true },
		ReconnectSuccess: func() { successFired = true },
	}
	o := New(backend, cb, ReconnectPolicy{RetryMax: 3, RetrySec: 20 * time.Millisecond}, nil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		backend.mu.Lock()
		backend.connectErr = nil
		backend.mu.Unlock()
	}()

	o.handleSendError(ErrDisconnected)

	if !reconnectFired {
		t.Fatal("expected Reconnect callback fired")
	}
	if !successFired {
		t.Fatal("expected ReconnectSuccess callback fired")
	}
	if o.State() != StateActive {
		t.Fatalf("state = %v, want active after reconnect", o.State())
	}
}

func TestOutputHandleSendErrorStopsAfterExhaustingRetries(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{connectErr: errors.New("still down")}
	var stopCode StopCode
	cb := Callbacks{Stop: func(code StopCode, msg string) { stopCode = code }}
	o := New(backend, cb, ReconnectPolicy{RetryMax: 2, RetrySec: time.Millisecond}, nil)

	o.handleSendError(ErrDisconnected)

	if stopCode != StopDisconnected {
		t.Fatalf("stop code = %v, want StopDisconnected", stopCode)
	}
	if o.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", o.State())
	}
	if backend.connectCalls != 2 {
		t.Fatalf("connect attempts = %d, want 2 (RetryMax)", backend.connectCalls)
	}
}

func TestOutputHandleSendErrorStopsImmediatelyWithoutReconnectPolicy(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{}
	var stopCode StopCode
	cb := Callbacks{Stop: func(code StopCode, msg string) { stopCode = code }}
	o := New(backend, cb, ReconnectPolicy{}, nil)

	o.handleSendError(ErrNoSpace)

	if stopCode != StopNoSpace {
		t.Fatalf("stop code = %v, want StopNoSpace", stopCode)
	}
	if backend.connectCalls != 0 {
		t.Fatalf("expected no reconnect attempts, got %d", backend.connectCalls)
	}
}

func TestOutputPopReturnsFalseOnceStopped(t *testing.T) {
	t.Parallel()
	o := New(&fakeBackend{}, Callbacks{}, ReconnectPolicy{}, nil)

	o.mu.Lock()
	o.buf = append(o.buf, &media.EncoderPacket{})
	o.stopped = true
	o.mu.Unlock()

	if _, ok := o.pop(); ok {
		t.Fatal("expected pop to return false once stopped, even with a non-empty buffer (S6 drains separately)")
	}
}
