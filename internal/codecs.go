package internal

import "fmt"

// VideoCodec identifies one of the video codecs the service accepts.
type VideoCodec string

const (
	CodecH264 VideoCodec = "H264"
	CodecH265 VideoCodec = "H265"
	CodecVP8  VideoCodec = "VP8"
	CodecVP9  VideoCodec = "VP9"
	CodecAV1  VideoCodec = "AV1"
)

// Fixed payload type assignments used by the voice service.
const (
	OpusPayloadType uint8 = 120

	H264PayloadType    uint8 = 101
	H264RtxPayloadType uint8 = 102
	H265PayloadType    uint8 = 103
	H265RtxPayloadType uint8 = 104
	VP8PayloadType     uint8 = 105
	VP8RtxPayloadType  uint8 = 106
	VP9PayloadType     uint8 = 107
	VP9RtxPayloadType  uint8 = 108
	AV1PayloadType     uint8 = 109
	AV1RtxPayloadType  uint8 = 110
)

const (
	VideoClockRate = 90000
	OpusClockRate  = 48000
	MaxRTPPayload  = 1200

	// Opus frames are fixed 20ms.
	OpusFrameMs = 20
)

// PayloadType returns the RTP payload type for the codec.
func (c VideoCodec) PayloadType() uint8 {
	switch c {
	case CodecH264:
		return H264PayloadType
	case CodecH265:
		return H265PayloadType
	case CodecVP8:
		return VP8PayloadType
	case CodecVP9:
		return VP9PayloadType
	case CodecAV1:
		return AV1PayloadType
	}
	return 0
}

// RtxPayloadType returns the retransmission payload type for the codec.
// RTX is advertised during protocol selection but never serviced.
func (c VideoCodec) RtxPayloadType() uint8 {
	switch c {
	case CodecH264:
		return H264RtxPayloadType
	case CodecH265:
		return H265RtxPayloadType
	case CodecVP8:
		return VP8RtxPayloadType
	case CodecVP9:
		return VP9RtxPayloadType
	case CodecAV1:
		return AV1RtxPayloadType
	}
	return 0
}

// videoCodecFromMKV maps a Matroska CodecID onto the supported set.
func videoCodecFromMKV(codecID string) (VideoCodec, error) {
	switch codecID {
	case "V_MPEG4/ISO/AVC":
		return CodecH264, nil
	case "V_MPEGH/ISO/HEVC":
		return CodecH265, nil
	case "V_VP8":
		return CodecVP8, nil
	case "V_VP9":
		return CodecVP9, nil
	case "V_AV1":
		return CodecAV1, nil
	}
	return "", fmt.Errorf("%w: video codec %q", ErrUnsupportedCodec, codecID)
}
