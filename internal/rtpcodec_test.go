package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildExtension(t *testing.T) {
	ext := buildExtension(0)
	require.Len(t, ext, 8)
	assert.Equal(t, []byte{0xBE, 0xDE, 0x00, 0x01}, ext[:4])
	assert.Equal(t, byte(0x51), ext[4])
	assert.Equal(t, []byte{0, 0, 0}, ext[5:])

	ext = buildExtension(0x010203)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, ext[5:])
}

func TestPartitionPayload(t *testing.T) {
	tests := []struct {
		name string
		size int
		mtu  int
		want []int
	}{
		{"fits", 100, 1200, []int{100}},
		{"exact", 1200, 1200, []int{1200}},
		{"split", 2500, 1200, []int{1200, 1200, 100}},
		{"empty", 0, 1200, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i)
			}
			chunks := partitionPayload(data, tt.mtu)
			require.Len(t, chunks, len(tt.want))
			joined := make([]byte, 0, len(data))
			for i, c := range chunks {
				assert.Len(t, c, tt.want[i])
				joined = append(joined, c...)
			}
			assert.Equal(t, data, joined)
		})
	}
}

func TestSequenceArithmetic(t *testing.T) {
	assert.Equal(t, uint16(1), nextSequence(0))
	assert.Equal(t, uint16(0), nextSequence(0xFFFF))
	assert.Equal(t, uint32(0), nextTimestamp(0xFFFFFFFF, 1))
	assert.Equal(t, uint32(99), nextTimestamp(0xFFFFFFFF, 100))
}

func TestNTPTime(t *testing.T) {
	// 2024-01-01T00:00:00Z
	at := time.Unix(1704067200, 0).UTC()
	ntp := ntpTime(at)
	assert.Equal(t, uint64(1704067200+2208988800), ntp>>32)
	assert.Equal(t, uint64(0), ntp&0xFFFFFFFF)

	// The largest whole-nanosecond fraction rounds to 0xFFFFFFFC and stays
	// inside the 32-bit field without carrying into the seconds.
	at = time.Unix(1704067200, 999999999).UTC()
	ntp = ntpTime(at)
	assert.Equal(t, uint64(1704067200+2208988800), ntp>>32)
	assert.Equal(t, uint64(0xFFFFFFFC), ntp&0xFFFFFFFF)
}

func TestBuildSenderReport(t *testing.T) {
	header, body, err := buildSenderReport(0x12345678, 90000, 42, 4242, time.Unix(1704067200, 500000000))
	require.NoError(t, err)

	require.Len(t, header, 8)
	require.Len(t, body, 20)
	assert.Equal(t, []byte{0x80, 0xC8, 0x00, 0x06}, header[:4])
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, header[4:8])

	// body: ntp secs, ntp frac, rtp ts, packet count, octet count
	assert.Equal(t, []byte{0x00, 0x01, 0x5F, 0x90}, body[8:12])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x2A}, body[12:16])
	assert.Equal(t, []byte{0x00, 0x00, 0x10, 0x92}, body[16:20])
}
