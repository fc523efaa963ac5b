package internal

import (
	"encoding/binary"
	"fmt"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	h264NALSlice = 1
	h264NALIDR   = 5
	h264NALSPS   = 7
	h264NALPPS   = 8
	h264NALFUA   = 28
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	hevcNALIDRWRadl = 19
	hevcNALIDRNlp   = 20
	hevcNALVPS      = 32
	hevcNALSPS      = 33
	hevcNALPPS      = 34
	hevcNALFU       = 49
)

func h264NALType(b byte) byte { return b & 0x1F }

// hevcNALType extracts the type field from the first byte of the 2-byte
// HEVC NAL header: forbidden(1) | type(6) | layerID_high(1).
func hevcNALType(b byte) byte { return (b >> 1) & 0x3F }

// splitNALUnits splits a length-prefixed access unit into its NAL units.
// Each entry is a 4-byte big-endian length followed by that many bytes.
func splitNALUnits(frame []byte) ([][]byte, error) {
	var nalus [][]byte
	for off := 0; off < len(frame); {
		if len(frame)-off < 4 {
			return nil, fmt.Errorf("truncated NAL length prefix at offset %d", off)
		}
		size := int(binary.BigEndian.Uint32(frame[off : off+4]))
		off += 4
		if size < 0 || size > len(frame)-off {
			return nil, fmt.Errorf("NAL length %d exceeds remaining %d bytes", size, len(frame)-off)
		}
		nalus = append(nalus, frame[off:off+size])
		off += size
	}
	return nalus, nil
}

// mergeNALUnits is the byte-exact inverse of splitNALUnits.
func mergeNALUnits(nalus [][]byte) []byte {
	total := 0
	for _, nal := range nalus {
		total += 4 + len(nal)
	}
	out := make([]byte, 0, total)
	var size [4]byte
	for _, nal := range nalus {
		binary.BigEndian.PutUint32(size[:], uint32(len(nal)))
		out = append(out, size[:]...)
		out = append(out, nal...)
	}
	return out
}

// ParameterSets holds the parameter set NAL payloads parsed from a track's
// codec configuration record. H.264 uses SPS/PPS only.
type ParameterSets struct {
	VPS [][]byte
	SPS [][]byte
	PPS [][]byte
}

// InjectH264 prepends SPS/PPS to IDR access units that do not already carry
// them. Non-IDR frames pass through untouched. Applying the injector twice
// yields the same bytes as applying it once.
func (ps *ParameterSets) InjectH264(frame []byte) ([]byte, error) {
	nalus, err := splitNALUnits(frame)
	if err != nil {
		return nil, err
	}

	isIDR, hasSPS, hasPPS := false, false, false
	for _, nal := range nalus {
		if len(nal) == 0 {
			continue
		}
		switch h264NALType(nal[0]) {
		case h264NALIDR:
			isIDR = true
		case h264NALSPS:
			hasSPS = true
		case h264NALPPS:
			hasPPS = true
		}
	}
	if !isIDR || (hasSPS && hasPPS) {
		return frame, nil
	}

	var merged [][]byte
	if !hasSPS {
		merged = append(merged, ps.SPS...)
	}
	if !hasPPS {
		merged = append(merged, ps.PPS...)
	}
	merged = append(merged, nalus...)
	return mergeNALUnits(merged), nil
}

// InjectHEVC prepends VPS/SPS/PPS (in that order) to IDR access units that
// do not already carry them.
func (ps *ParameterSets) InjectHEVC(frame []byte) ([]byte, error) {
	nalus, err := splitNALUnits(frame)
	if err != nil {
		return nil, err
	}

	isIDR, hasVPS, hasSPS, hasPPS := false, false, false, false
	for _, nal := range nalus {
		if len(nal) == 0 {
			continue
		}
		switch hevcNALType(nal[0]) {
		case hevcNALIDRWRadl, hevcNALIDRNlp:
			isIDR = true
		case hevcNALVPS:
			hasVPS = true
		case hevcNALSPS:
			hasSPS = true
		case hevcNALPPS:
			hasPPS = true
		}
	}
	if !isIDR || (hasVPS && hasSPS && hasPPS) {
		return frame, nil
	}

	var merged [][]byte
	if !hasVPS {
		merged = append(merged, ps.VPS...)
	}
	if !hasSPS {
		merged = append(merged, ps.SPS...)
	}
	if !hasPPS {
		merged = append(merged, ps.PPS...)
	}
	merged = append(merged, nalus...)
	return mergeNALUnits(merged), nil
}

// Inject applies the codec-appropriate parameter set injection.
// VP8/VP9/AV1 access units need none and pass through.
func (ps *ParameterSets) Inject(codec VideoCodec, frame []byte) ([]byte, error) {
	if ps == nil {
		return frame, nil
	}
	switch codec {
	case CodecH264:
		return ps.InjectH264(frame)
	case CodecH265:
		return ps.InjectHEVC(frame)
	default:
		return frame, nil
	}
}
