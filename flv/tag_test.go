package flv

import "testing"

// S1 — FLV meta-data for 1280x720@30fps, stereo 48kHz, 4Mbps video / 160kbps audio.
func TestBuildMetaDataTagBodyS1(t *testing.T) {
	t.Parallel()
	body := BuildMetaDataTagBody(MetaData{
		Width:           1280,
		Height:          720,
		VideoDataRate:   4000,
		FrameRate:       30,
		AudioDataRate:   160,
		AudioSampleRate: 48000,
		AudioChannels:   2,
		Stereo:          true,
	})

	// "@setDataFrame" string: marker 0x02, 2-byte len 13, bytes.
	if body[0] != amf0String {
		t.Fatalf("expected string marker, got %#x", body[0])
	}
	n1 := int(body[1])<<8 | int(body[2])
	if n1 != len("@setDataFrame") || string(body[3:3+n1]) != "@setDataFrame" {
		t.Fatalf("unexpected first string: %q", body[3:3+n1])
	}

	rest := body[3+n1:]
	if rest[0] != amf0String {
		t.Fatalf("expected second string marker, got %#x", rest[0])
	}
	n2 := int(rest[1])<<8 | int(rest[2])
	if string(rest[3:3+n2]) != "onMetaData" {
		t.Fatalf("unexpected second string: %q", rest[3:3+n2])
	}

	arr := rest[3+n2:]
	if arr[0] != amf0ECMAArray {
		t.Fatalf("expected ECMA array marker, got %#x", arr[0])
	}
	count := uint32(arr[1])<<24 | uint32(arr[2])<<16 | uint32(arr[3])<<8 | uint32(arr[4])
	if count != 20 {
		t.Fatalf("ECMA array count = %d, want 20", count)
	}
}

func TestBuildVideoTagBodyKeyframe(t *testing.T) {
	t.Parallel()
	body := BuildVideoTagBody(true, AVCPacketTypeNALU, 0, []byte{0xDE, 0xAD})
	if body[0] != (VideoFrameTypeKeyframe<<4 | 0x07) {
		t.Fatalf("unexpected packed byte: %#x", body[0])
	}
	if body[1] != AVCPacketTypeNALU {
		t.Fatalf("unexpected avcPacketType: %d", body[1])
	}
	if string(body[5:]) != "\xDE\xAD" {
		t.Fatalf("unexpected payload: %x", body[5:])
	}
}

func TestBuildVideoTagBodyInterframe(t *testing.T) {
	t.Parallel()
	body := BuildVideoTagBody(false, AVCPacketTypeNALU, 0, nil)
	if body[0] != (VideoFrameTypeInterframe<<4 | 0x07) {
		t.Fatalf("unexpected packed byte: %#x", body[0])
	}
}

func TestBuildTagHeaderAndTrailer(t *testing.T) {
	t.Parallel()
	body := []byte{0xAF, 0x01, 0xDE, 0xAD}
	out := BuildTag(TagTypeAudio, 0x01020304, body)

	if out[0] != TagTypeAudio {
		t.Fatalf("tag type = %#x, want %#x", out[0], TagTypeAudio)
	}
	dataSize := int(out[1])<<16 | int(out[2])<<8 | int(out[3])
	if dataSize != len(body) {
		t.Fatalf("data size = %d, want %d", dataSize, len(body))
	}
	if out[4] != 0x02 || out[5] != 0x03 || out[6] != 0x04 || out[7] != 0x01 {
		t.Fatalf("unexpected timestamp bytes: %x", out[4:8])
	}
	if out[8] != 0 || out[9] != 0 || out[10] != 0 {
		t.Fatalf("expected zero stream id, got %x", out[8:11])
	}
	if string(out[11:11+len(body)]) != string(body) {
		t.Fatalf("unexpected body: %x", out[11:11+len(body)])
	}
	trailer := out[11+len(body):]
	total := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	if total != uint32(11+len(body)) {
		t.Fatalf("previous tag size = %d, want %d", total, 11+len(body))
	}
}

func TestBuildAudioTagBody(t *testing.T) {
	t.Parallel()
	body := BuildAudioTagBody(AACPacketTypeRaw, []byte{0x01, 0x02})
	if body[0] != 0xAF || body[1] != AACPacketTypeRaw {
		t.Fatalf("unexpected header bytes: %x", body[:2])
	}
	if string(body[2:]) != "\x01\x02" {
		t.Fatalf("unexpected payload: %x", body[2:])
	}
}
