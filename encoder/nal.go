package encoder

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1,
// carried over from the bitstream parsing this encoder layer needs to
// classify its own output (keyframe detection, SPS/PPS extraction).
const (
	nalTypeSlice = 1
	nalTypeIDR   = 5
	nalTypeSEI   = 6
	nalTypeSPS   = 7
	nalTypePPS   = 8
	nalTypeAUD   = 9
)

// NALUnit is one parsed Annex-B NAL unit: a type tag plus the raw bytes
// following the start code, not including it.
type NALUnit struct {
	Type byte
	Data []byte
}

// ParseAnnexB splits an Annex-B byte stream (the payload libavcodec emits
// for H.264 by default) into individual NAL units, recognizing both 3-byte
// (0x000001) and 4-byte (0x00000001) start codes.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart, dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nalData := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nalData[0] & 0x1F, Data: nalData})
	}
	return units
}

// IsKeyframe reports whether any NAL in units is an IDR slice.
func IsKeyframe(units []NALUnit) bool {
	for _, u := range units {
		if u.Type == nalTypeIDR {
			return true
		}
	}
	return false
}

// ExtractParameterSets returns the first SPS and PPS NAL unit found in
// units, each still including its NAL header byte (the AVCDecoderConfigur-
// ationRecord layout in spec §6 expects the raw SPS/PPS bytes as given).
func ExtractParameterSets(units []NALUnit) (sps, pps []byte, ok bool) {
	for _, u := range units {
		switch u.Type {
		case nalTypeSPS:
			if sps == nil {
				sps = u.Data
			}
		case nalTypePPS:
			if pps == nil {
				pps = u.Data
			}
		}
	}
	return sps, pps, sps != nil && pps != nil
}

// AnnexBToLengthPrefixed rewrites Annex-B NAL units into 4-byte big-endian
// length-prefixed form (AVCC), the framing RTMP/MPEG-TS muxers expect once
// an AVCDecoderConfigurationRecord has declared lengthSizeMinusOne = 3.
func AnnexBToLengthPrefixed(units []NALUnit) []byte {
	out := make([]byte, 0, 64)
	for _, u := range units {
		var lenBuf [4]byte
		n := len(u.Data)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		out = append(out, lenBuf[:]...)
		out = append(out, u.Data...)
	}
	return out
}

// ToAVCC converts one Annex-B encoded access unit directly into AVCC
// length-prefixed form, for handing to an FLV/MPEG-TS muxer.
func ToAVCC(annexB []byte) []byte {
	return AnnexBToLengthPrefixed(ParseAnnexB(annexB))
}
