package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1E}
	testPPS = []byte{0x68, 0xCE, 0x38, 0x80}
)

func TestSplitMergeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		nalus [][]byte
	}{
		{"single", [][]byte{{0x65, 0x01, 0x02}}},
		{"multiple", [][]byte{testSPS, testPPS, {0x65, 0xAA}}},
		{"empty nal", [][]byte{{}, {0x41}}},
		{"none", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := mergeNALUnits(tt.nalus)
			split, err := splitNALUnits(frame)
			require.NoError(t, err)
			merged := mergeNALUnits(split)
			assert.Equal(t, frame, merged)
		})
	}
}

func TestSplitNALUnitsMalformed(t *testing.T) {
	_, err := splitNALUnits([]byte{0x00, 0x00})
	assert.Error(t, err)

	// Length prefix pointing past the end.
	_, err = splitNALUnits([]byte{0x00, 0x00, 0x00, 0x09, 0x65})
	assert.Error(t, err)
}

func TestInjectH264IDR(t *testing.T) {
	ps := &ParameterSets{SPS: [][]byte{testSPS}, PPS: [][]byte{testPPS}}
	idr := []byte{0x65, 0x01, 0x02, 0x03}
	frame := mergeNALUnits([][]byte{idr})

	out, err := ps.InjectH264(frame)
	require.NoError(t, err)

	nalus, err := splitNALUnits(out)
	require.NoError(t, err)
	require.Len(t, nalus, 3)
	assert.Equal(t, testSPS, nalus[0])
	assert.Equal(t, testPPS, nalus[1])
	assert.Equal(t, idr, nalus[2])
}

func TestInjectH264Idempotent(t *testing.T) {
	ps := &ParameterSets{SPS: [][]byte{testSPS}, PPS: [][]byte{testPPS}}
	frame := mergeNALUnits([][]byte{{0x65, 0x01}})

	once, err := ps.InjectH264(frame)
	require.NoError(t, err)
	twice, err := ps.InjectH264(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestInjectH264NonIDRPassthrough(t *testing.T) {
	ps := &ParameterSets{SPS: [][]byte{testSPS}, PPS: [][]byte{testPPS}}
	frame := mergeNALUnits([][]byte{{0x41, 0x9A}}) // non-IDR slice

	out, err := ps.InjectH264(frame)
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestInjectHEVCOrdering(t *testing.T) {
	vps := []byte{hevcNALVPS << 1, 0x01, 0xAA}
	sps := []byte{hevcNALSPS << 1, 0x01, 0xBB}
	pps := []byte{hevcNALPPS << 1, 0x01, 0xCC}
	idr := []byte{hevcNALIDRWRadl << 1, 0x01, 0xDD}

	ps := &ParameterSets{VPS: [][]byte{vps}, SPS: [][]byte{sps}, PPS: [][]byte{pps}}
	frame := mergeNALUnits([][]byte{idr})

	out, err := ps.InjectHEVC(frame)
	require.NoError(t, err)

	nalus, err := splitNALUnits(out)
	require.NoError(t, err)
	require.Len(t, nalus, 4)
	assert.Equal(t, vps, nalus[0])
	assert.Equal(t, sps, nalus[1])
	assert.Equal(t, pps, nalus[2])
	assert.Equal(t, idr, nalus[3])
}

func TestInjectVP8Passthrough(t *testing.T) {
	var ps *ParameterSets
	frame := []byte{0x10, 0x20, 0x30}
	out, err := ps.Inject(CodecVP8, frame)
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestNALTypeExtraction(t *testing.T) {
	assert.Equal(t, byte(h264NALIDR), h264NALType(0x65))
	assert.Equal(t, byte(h264NALSPS), h264NALType(0x67))
	assert.Equal(t, byte(hevcNALIDRWRadl), hevcNALType(19<<1))
	assert.Equal(t, byte(1), hevcNALType(0x02))
}
