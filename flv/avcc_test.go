package flv

import "testing"

// S2 — SPS/PPS to AVCDecoderConfigurationRecord.
func TestBuildAVCDecoderConfigurationRecordS2(t *testing.T) {
	t.Parallel()
	sps := make([]byte, 20)
	sps[0], sps[1], sps[2], sps[3] = 0x67, 0x42, 0xC0, 0x1F
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}

	got, err := BuildAVCDecoderConfigurationRecord(sps, pps)
	if err != nil {
		t.Fatalf("BuildAVCDecoderConfigurationRecord: %v", err)
	}

	want := []byte{0x01, 0x42, 0xC0, 0x1F, 0xFF, 0xE1, 0x00, 0x14}
	if len(got) < len(want) {
		t.Fatalf("record too short: %x", got)
	}
	for i, b := range want {
		if got[i] != b {
			t.Fatalf("byte %d = %#x, want %#x (got=%x)", i, got[i], b, got)
		}
	}

	ppsMarkerIdx := 8 + len(sps)
	if got[ppsMarkerIdx] != 0x01 {
		t.Fatalf("expected PPS count marker 0x01 at %d, got %#x", ppsMarkerIdx, got[ppsMarkerIdx])
	}
	if got[ppsMarkerIdx+1] != 0x00 || got[ppsMarkerIdx+2] != 0x04 {
		t.Fatalf("expected PPS length 4, got %x", got[ppsMarkerIdx+1:ppsMarkerIdx+3])
	}
}

func TestBuildAVCDecoderConfigurationRecordRejectsShortSPS(t *testing.T) {
	t.Parallel()
	if _, err := BuildAVCDecoderConfigurationRecord([]byte{0x67}, []byte{0x68, 0x01}); err == nil {
		t.Fatal("expected error for short SPS")
	}
}

func TestBuildAVCDecoderConfigurationRecordRequiresPPS(t *testing.T) {
	t.Parallel()
	sps := make([]byte, 8)
	if _, err := BuildAVCDecoderConfigurationRecord(sps, nil); err == nil {
		t.Fatal("expected error for missing PPS")
	}
}
