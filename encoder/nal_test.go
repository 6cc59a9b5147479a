package encoder

import "testing"

func buildAnnexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestParseAnnexBSplitsUnits(t *testing.T) {
	t.Parallel()
	sps := []byte{0x67, 0x42, 0xC0, 0x1F, 0xAA}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := []byte{0x65, 0x01, 0x02, 0x03}
	data := buildAnnexB(sps, pps, idr)

	units := ParseAnnexB(data)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	if units[0].Type != nalTypeSPS || units[1].Type != nalTypePPS || units[2].Type != nalTypeIDR {
		t.Fatalf("unexpected types: %v %v %v", units[0].Type, units[1].Type, units[2].Type)
	}
}

func TestParseAnnexBThreeByteStartCode(t *testing.T) {
	t.Parallel()
	data := append([]byte{0, 0, 1}, 0x65, 0xAA, 0xBB)
	units := ParseAnnexB(data)
	if len(units) != 1 || units[0].Type != nalTypeIDR {
		t.Fatalf("unexpected parse of 3-byte start code: %+v", units)
	}
}

func TestIsKeyframe(t *testing.T) {
	t.Parallel()
	units := ParseAnnexB(buildAnnexB([]byte{0x61, 0x01}, []byte{0x65, 0x02}))
	if !IsKeyframe(units) {
		t.Fatal("expected keyframe detected")
	}
	units = ParseAnnexB(buildAnnexB([]byte{0x61, 0x01}))
	if IsKeyframe(units) {
		t.Fatal("expected no keyframe")
	}
}

func TestExtractParameterSets(t *testing.T) {
	t.Parallel()
	sps := []byte{0x67, 0x42, 0xC0, 0x1F}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	units := ParseAnnexB(buildAnnexB(sps, pps, []byte{0x65, 0x01}))

	gotSPS, gotPPS, ok := ExtractParameterSets(units)
	if !ok {
		t.Fatal("expected parameter sets found")
	}
	if string(gotSPS) != string(sps) || string(gotPPS) != string(pps) {
		t.Fatalf("unexpected sets: %x %x", gotSPS, gotPPS)
	}
}

func TestExtractParameterSetsMissing(t *testing.T) {
	t.Parallel()
	units := ParseAnnexB(buildAnnexB([]byte{0x65, 0x01}))
	if _, _, ok := ExtractParameterSets(units); ok {
		t.Fatal("expected no parameter sets found")
	}
}

func TestAnnexBToLengthPrefixed(t *testing.T) {
	t.Parallel()
	units := ParseAnnexB(buildAnnexB([]byte{0x65, 0x01, 0x02}))
	out := AnnexBToLengthPrefixed(units)
	if len(out) != 4+3 {
		t.Fatalf("unexpected length-prefixed size: %d", len(out))
	}
	if out[0] != 0 || out[1] != 0 || out[2] != 0 || out[3] != 3 {
		t.Fatalf("unexpected length prefix: %v", out[:4])
	}
}

func TestSEINALWellFormed(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 300)
	nal := seiNAL(payload)
	if nal[4] != nalTypeSEI {
		t.Fatalf("expected SEI NAL type, got %d", nal[4])
	}
	// 300-byte payload needs a 0xFF continuation byte plus remainder.
	if nal[5] != 0xFF || nal[6] != byte(300-255) {
		t.Fatalf("unexpected SEI size encoding: %v", nal[5:7])
	}
}
