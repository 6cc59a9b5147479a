package flv

// FLV tag type markers (spec §4.8 / §6).
const (
	TagTypeAudio  = 0x08
	TagTypeVideo  = 0x09
	TagTypeScript = 0x12
)

// VideoFrameType values for the video tag's packed byte.
const (
	VideoFrameTypeKeyframe   = 1
	VideoFrameTypeInterframe = 2
)

// AVC packet types for the video tag's second byte.
const (
	AVCPacketTypeSequenceHeader = 0
	AVCPacketTypeNALU           = 1
)

// AAC packet types for the audio tag's second byte.
const (
	AACPacketTypeSequenceHeader = 0
	AACPacketTypeRaw            = 1
)

// MetaData is the set of fields the onMetaData script tag carries, per
// spec §6 / scenario S1.
type MetaData struct {
	Width          float64
	Height         float64
	VideoDataRate  float64 // kbps
	FrameRate      float64
	AudioDataRate  float64 // kbps
	AudioSampleRate float64
	AudioChannels  float64
	Stereo         bool
}

// BuildMetaDataTagBody builds the full script-tag payload: the AMF0
// strings "@setDataFrame" and "onMetaData" followed by an ECMA array of 20
// entries describing the stream (spec §6, scenario S1).
func BuildMetaDataTagBody(m MetaData) []byte {
	out := AMF0EncodeString("@setDataFrame")
	out = append(out, AMF0EncodeString("onMetaData")...)

	values := []AMF0Value{
		{"duration", float64(0)},
		{"fileSize", float64(0)},
		{"width", m.Width},
		{"height", m.Height},
		{"videocodecid", float64(7)}, // AVC
		{"videodatarate", m.VideoDataRate},
		{"framerate", m.FrameRate},
		{"audiocodecid", float64(10)}, // AAC
		{"audiodatarate", m.AudioDataRate},
		{"audiosamplerate", m.AudioSampleRate},
		{"audiosamplesize", float64(16)},
		{"audiochannels", m.AudioChannels},
		{"stereo", m.Stereo},
		{"encoder", "lite-obs"},
		{"canSeekToEnd", false},
		{"hasVideo", true},
		{"hasAudio", true},
		{"hasMetadata", true},
		{"hasCuePoints", false},
		{"hasKeyframes", false},
	}
	out = append(out, AMF0EncodeECMAArray(values)...)
	return out
}

// BuildVideoTagBody builds an FLV video tag body: frameType|codecId packed
// byte, avcPacketType, a 24-bit composition time offset, and the payload
// (either an AVCDecoderConfigurationRecord for a sequence header, or
// length-prefixed AVCC NAL units for media).
func BuildVideoTagBody(keyframe bool, packetType byte, cts int32, payload []byte) []byte {
	frameType := byte(VideoFrameTypeInterframe)
	if keyframe {
		frameType = VideoFrameTypeKeyframe
	}
	out := make([]byte, 0, 5+len(payload))
	out = append(out, frameType<<4|0x07, packetType) // codecId 7 = AVC
	out = append(out, byte(cts>>16), byte(cts>>8), byte(cts))
	out = append(out, payload...)
	return out
}

// BuildAudioTagBody builds an FLV audio tag body for stereo 16-bit AAC:
// 0xAF (soundFormat=10 AAC, rate=3, size=1, stereo=1), packetType, payload.
func BuildAudioTagBody(packetType byte, payload []byte) []byte {
	out := make([]byte, 0, 2+len(payload))
	out = append(out, 0xAF, packetType)
	out = append(out, payload...)
	return out
}

// BuildTag frames a tag body with the 11-byte FLV tag header (type, 24-bit
// data size, 24-bit timestamp + 8-bit timestamp-extended, 24-bit stream id,
// always 0) followed by the 4-byte big-endian previous-tag-size trailer
// the next tag's reader uses to seek backward. timestampMs wraps at 2^32,
// matching the wire format's 32-bit timestamp (low 24 bits + extended byte).
func BuildTag(tagType byte, timestampMs uint32, body []byte) []byte {
	n := len(body)
	out := make([]byte, 0, 11+n+4)
	out = append(out,
		tagType,
		byte(n>>16), byte(n>>8), byte(n),
		byte(timestampMs>>16), byte(timestampMs>>8), byte(timestampMs),
		byte(timestampMs>>24),
		0, 0, 0, // stream id
	)
	out = append(out, body...)
	total := uint32(11 + n)
	out = append(out, byte(total>>24), byte(total>>16), byte(total>>8), byte(total))
	return out
}
