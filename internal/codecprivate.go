package internal

import (
	"encoding/binary"
	"fmt"
)

// parseAVCConfig extracts SPS/PPS from an AVCDecoderConfigurationRecord
// (the avcC box carried in the track's CodecPrivate).
//
// Layout: version(1) profile(1) compat(1) level(1) lengthSizeMinusOne(1),
// then 3-bit reserved + 5-bit SPS count, u16-length-prefixed SPS entries,
// PPS count, u16-length-prefixed PPS entries.
func parseAVCConfig(record []byte) (*ParameterSets, error) {
	if len(record) < 7 {
		return nil, fmt.Errorf("avcC record too short: %d bytes", len(record))
	}
	if record[0] != 1 {
		return nil, fmt.Errorf("%w: avcC configurationVersion=%d", ErrInvalidConfigurationRecord, record[0])
	}

	ps := &ParameterSets{}
	off := 5

	spsCount := int(record[off] & 0x1F)
	off++
	for i := 0; i < spsCount; i++ {
		nal, next, err := readPrefixedNAL(record, off)
		if err != nil {
			return nil, fmt.Errorf("avcC SPS %d: %w", i, err)
		}
		ps.SPS = append(ps.SPS, nal)
		off = next
	}

	if off >= len(record) {
		return nil, fmt.Errorf("avcC record truncated before PPS count")
	}
	ppsCount := int(record[off])
	off++
	for i := 0; i < ppsCount; i++ {
		nal, next, err := readPrefixedNAL(record, off)
		if err != nil {
			return nil, fmt.Errorf("avcC PPS %d: %w", i, err)
		}
		ps.PPS = append(ps.PPS, nal)
		off = next
	}

	return ps, nil
}

// parseHEVCConfig extracts VPS/SPS/PPS from an HEVCDecoderConfigurationRecord
// (hvcC). The 22-byte fixed header is skipped, then numOfArrays arrays of
// u16-length-prefixed NAL units, dispatched by the 6-bit NAL unit type.
func parseHEVCConfig(record []byte) (*ParameterSets, error) {
	if len(record) < 23 {
		return nil, fmt.Errorf("hvcC record too short: %d bytes", len(record))
	}
	if record[0] != 1 {
		return nil, fmt.Errorf("%w: hvcC configurationVersion=%d", ErrInvalidConfigurationRecord, record[0])
	}

	ps := &ParameterSets{}
	off := 22

	numArrays := int(record[off])
	off++
	for a := 0; a < numArrays; a++ {
		if off+3 > len(record) {
			return nil, fmt.Errorf("hvcC array %d header truncated", a)
		}
		naluType := record[off] & 0x3F
		count := int(binary.BigEndian.Uint16(record[off+1 : off+3]))
		off += 3

		for i := 0; i < count; i++ {
			nal, next, err := readPrefixedNAL(record, off)
			if err != nil {
				return nil, fmt.Errorf("hvcC array %d NAL %d: %w", a, i, err)
			}
			switch naluType {
			case hevcNALVPS:
				ps.VPS = append(ps.VPS, nal)
			case hevcNALSPS:
				ps.SPS = append(ps.SPS, nal)
			case hevcNALPPS:
				ps.PPS = append(ps.PPS, nal)
			}
			off = next
		}
	}

	return ps, nil
}

func readPrefixedNAL(buf []byte, off int) ([]byte, int, error) {
	if off+2 > len(buf) {
		return nil, 0, fmt.Errorf("length prefix truncated at offset %d", off)
	}
	size := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if off+size > len(buf) {
		return nil, 0, fmt.Errorf("NAL of %d bytes truncated at offset %d", size, off)
	}
	nal := make([]byte, size)
	copy(nal, buf[off:off+size])
	return nal, off + size, nil
}

// parseCodecPrivate dispatches the track's CodecPrivate payload to the
// codec-specific record parser. Codecs without parameter sets return nil.
func parseCodecPrivate(codec VideoCodec, private []byte) (*ParameterSets, error) {
	switch codec {
	case CodecH264:
		return parseAVCConfig(private)
	case CodecH265:
		return parseHEVCConfig(private)
	default:
		return nil, nil
	}
}
