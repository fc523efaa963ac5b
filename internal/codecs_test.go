package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadTypes(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		pt    uint8
		rtx   uint8
	}{
		{CodecH264, 101, 102},
		{CodecH265, 103, 104},
		{CodecVP8, 105, 106},
		{CodecVP9, 107, 108},
		{CodecAV1, 109, 110},
	}
	for _, tt := range tests {
		t.Run(string(tt.codec), func(t *testing.T) {
			assert.Equal(t, tt.pt, tt.codec.PayloadType())
			assert.Equal(t, tt.rtx, tt.codec.RtxPayloadType())
		})
	}
	assert.Equal(t, uint8(120), OpusPayloadType)
}

func TestVideoCodecFromMKV(t *testing.T) {
	codec, err := videoCodecFromMKV("V_MPEG4/ISO/AVC")
	require.NoError(t, err)
	assert.Equal(t, CodecH264, codec)

	codec, err = videoCodecFromMKV("V_AV1")
	require.NoError(t, err)
	assert.Equal(t, CodecAV1, codec)

	_, err = videoCodecFromMKV("V_THEORA")
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}
