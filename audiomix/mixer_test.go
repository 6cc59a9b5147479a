package audiomix

import (
	"math"
	"testing"

	"github.com/zsiec/lite-obs/audiobuf"
	"github.com/zsiec/lite-obs/media"
)

func float32ToBytes(v float32) []byte {
	bits := math.Float32bits(v)
	return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

func TestTickTimestampAdvancesBySampleCount(t *testing.T) {
	t.Parallel()
	m := NewMixer(48000, 2)
	t1 := m.Tick()
	t2 := m.Tick()
	want := int64(media.AudioOutputFrames) * 1_000_000_000 / 48000
	if t2.TimestampNS-t1.TimestampNS != want {
		t.Fatalf("tick delta = %d, want %d", t2.TimestampNS-t1.TimestampNS, want)
	}
}

func TestTickMixesBoundSlot(t *testing.T) {
	t.Parallel()
	m := NewMixer(48000, 1)
	ring := audiobuf.New(media.AudioOutputFrames * 4 * 2)
	var buf []byte
	for i := 0; i < media.AudioOutputFrames; i++ {
		buf = append(buf, float32ToBytes(0.5)...)
	}
	ring.Push(buf)
	m.BindSlot(0, []*audiobuf.Ring{ring})

	tick := m.Tick()
	if len(tick.Planes) != 1 || len(tick.Planes[0]) != media.AudioOutputFrames {
		t.Fatalf("unexpected tick shape: %+v", tick)
	}
	if tick.Planes[0][0] != 0.5 {
		t.Fatalf("tick.Planes[0][0] = %v, want 0.5", tick.Planes[0][0])
	}
}

func TestTickSilenceWhenUnbound(t *testing.T) {
	t.Parallel()
	m := NewMixer(48000, 2)
	tick := m.Tick()
	for _, plane := range tick.Planes {
		for _, s := range plane {
			if s != 0 {
				t.Fatal("expected silence for unbound mixer")
			}
		}
	}
}

func TestConnectDeliversTicks(t *testing.T) {
	t.Parallel()
	m := NewMixer(48000, 1)
	ch, cancel := m.Connect(2)
	defer cancel()

	m.Tick()
	select {
	case tick := <-ch:
		if len(tick.Planes) != 1 {
			t.Fatalf("unexpected tick: %+v", tick)
		}
	default:
		t.Fatal("expected a tick to be delivered")
	}
}

func TestUnbindSlotStopsMixing(t *testing.T) {
	t.Parallel()
	m := NewMixer(48000, 1)
	ring := audiobuf.New(1024)
	m.BindSlot(0, []*audiobuf.Ring{ring})
	m.UnbindSlot(0)
	tick := m.Tick()
	if tick.Planes[0][0] != 0 {
		t.Fatal("expected silence after unbinding slot")
	}
}
