package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildAVCRecord(sps, pps [][]byte) []byte {
	rec := []byte{1, 0x42, 0x00, 0x1E, 0xFF}
	rec = append(rec, byte(0xE0|len(sps)))
	for _, s := range sps {
		rec = append(rec, byte(len(s)>>8), byte(len(s)))
		rec = append(rec, s...)
	}
	rec = append(rec, byte(len(pps)))
	for _, p := range pps {
		rec = append(rec, byte(len(p)>>8), byte(len(p)))
		rec = append(rec, p...)
	}
	return rec
}

func TestParseAVCConfig(t *testing.T) {
	rec := buildAVCRecord([][]byte{testSPS}, [][]byte{testPPS})

	ps, err := parseAVCConfig(rec)
	require.NoError(t, err)
	require.Len(t, ps.SPS, 1)
	require.Len(t, ps.PPS, 1)
	assert.Equal(t, testSPS, ps.SPS[0])
	assert.Equal(t, testPPS, ps.PPS[0])
	assert.Empty(t, ps.VPS)
}

func TestParseAVCConfigBadVersion(t *testing.T) {
	rec := buildAVCRecord([][]byte{testSPS}, [][]byte{testPPS})
	rec[0] = 2
	_, err := parseAVCConfig(rec)
	assert.ErrorIs(t, err, ErrInvalidConfigurationRecord)
}

func TestParseAVCConfigTruncated(t *testing.T) {
	rec := buildAVCRecord([][]byte{testSPS}, [][]byte{testPPS})
	_, err := parseAVCConfig(rec[:8])
	assert.Error(t, err)
}

func buildHEVCRecord(arrays map[byte][][]byte) []byte {
	rec := make([]byte, 22)
	rec[0] = 1
	order := []byte{hevcNALVPS, hevcNALSPS, hevcNALPPS}
	count := 0
	for _, t := range order {
		if len(arrays[t]) > 0 {
			count++
		}
	}
	rec = append(rec, byte(count))
	for _, typ := range order {
		nals := arrays[typ]
		if len(nals) == 0 {
			continue
		}
		rec = append(rec, typ, byte(len(nals)>>8), byte(len(nals)))
		for _, n := range nals {
			rec = append(rec, byte(len(n)>>8), byte(len(n)))
			rec = append(rec, n...)
		}
	}
	return rec
}

func TestParseHEVCConfig(t *testing.T) {
	vps := []byte{hevcNALVPS << 1, 0x01, 0x0C}
	sps := []byte{hevcNALSPS << 1, 0x01, 0x0D}
	pps := []byte{hevcNALPPS << 1, 0x01, 0x0E}
	rec := buildHEVCRecord(map[byte][][]byte{
		hevcNALVPS: {vps},
		hevcNALSPS: {sps},
		hevcNALPPS: {pps},
	})

	ps, err := parseHEVCConfig(rec)
	require.NoError(t, err)
	require.Len(t, ps.VPS, 1)
	require.Len(t, ps.SPS, 1)
	require.Len(t, ps.PPS, 1)
	assert.Equal(t, vps, ps.VPS[0])
	assert.Equal(t, sps, ps.SPS[0])
	assert.Equal(t, pps, ps.PPS[0])
}

func TestParseHEVCConfigBadVersion(t *testing.T) {
	rec := buildHEVCRecord(nil)
	rec[0] = 0
	_, err := parseHEVCConfig(rec)
	assert.ErrorIs(t, err, ErrInvalidConfigurationRecord)
}

func TestParseCodecPrivateDispatch(t *testing.T) {
	ps, err := parseCodecPrivate(CodecVP9, []byte{0xDE, 0xAD})
	require.NoError(t, err)
	assert.Nil(t, ps)
}
