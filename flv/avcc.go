// Package flv builds the FLV tag byte layout and the AVCDecoderConfigur-
// ationRecord the RTMP output backend needs, hand-built per the exact byte
// layout spec.md specifies (no pack library writes FLV tags; this follows
// the teacher's own hand-rolled-bitstream style for SPS parsing, applied
// here to tag/record construction instead of parsing).
package flv

import "fmt"

// BuildAVCDecoderConfigurationRecord assembles the sequence-header payload
// for an H.264 video tag from one SPS and one PPS NAL (each including its
// NAL header byte), per spec §6:
//
//	0x01 | profile (SPS[1]) | constraint (SPS[2]) | level (SPS[3]) |
//	0xFF (lengthSizeMinusOne=3) | 0xE1 (one SPS) |
//	SPS_len(16be) | SPS_bytes |
//	0x01 (one PPS) | PPS_len(16be) | PPS_bytes
func BuildAVCDecoderConfigurationRecord(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("flv: SPS too short (%d bytes)", len(sps))
	}
	if len(pps) == 0 {
		return nil, fmt.Errorf("flv: PPS required")
	}

	out := make([]byte, 0, 11+len(sps)+len(pps))
	out = append(out, 0x01, sps[1], sps[2], sps[3], 0xFF, 0xE1)
	out = append(out, byte(len(sps)>>8), byte(len(sps)))
	out = append(out, sps...)
	out = append(out, 0x01)
	out = append(out, byte(len(pps)>>8), byte(len(pps)))
	out = append(out, pps...)
	return out, nil
}
