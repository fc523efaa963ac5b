package internal

import (
	"math"
	"time"

	"github.com/pion/rtcp"
)

// One-byte header extension (RFC 5285) carrying the playout-delay
// extension the service expects on every video packet.
const (
	extProfileHigh = 0xBE
	extProfileLow  = 0xDE
	extPlayoutID   = 5
	extPlayoutLen  = 2
)

// ntpEpochOffset converts the Unix epoch to the NTP epoch (1900-01-01 UTC).
const ntpEpochOffset = 2208988800

// nextSequence advances an RTP sequence number mod 2^16.
func nextSequence(seq uint16) uint16 { return seq + 1 }

// nextTimestamp advances an RTP timestamp mod 2^32.
func nextTimestamp(ts uint32, inc uint32) uint32 { return ts + inc }

// buildExtension renders the 4-byte extension header plus one 4-byte
// element slot. The upstream service writes the element length nibble as
// len-1 with a 24-bit big-endian value at offset 1 of the slot; this quirk
// is kept verbatim, so pion's SetExtension (which would renormalize the
// nibble) is not usable here.
func buildExtension(value uint32) []byte {
	ext := make([]byte, 8)
	ext[0] = extProfileHigh
	ext[1] = extProfileLow
	// extension word count, u16 BE
	ext[2] = 0
	ext[3] = 1
	ext[4] = ((extPlayoutID & 0x0F) << 4) | ((extPlayoutLen - 1) & 0x0F)
	ext[5] = byte(value >> 16)
	ext[6] = byte(value >> 8)
	ext[7] = byte(value)
	return ext
}

// partitionPayload splits data into consecutive chunks of at most mtu bytes,
// preserving order. Codec header bytes must be stripped by the caller before
// partitioning.
func partitionPayload(data []byte, mtu int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := len(data)
		if n > mtu {
			n = mtu
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// ntpTime folds a wall-clock instant into the 64-bit NTP format. The
// fractional part rounds half-up; a rounded value above 2^32-1 would
// overflow the field, so it is clamped to 2^32-1. Whole nanoseconds top out
// at 0xFFFFFFFC.
func ntpTime(now time.Time) uint64 {
	secs := uint64(now.Unix()) + ntpEpochOffset
	frac := math.Round(float64(now.Nanosecond()) / 1e9 * 4294967296.0)
	if frac > math.MaxUint32 {
		frac = math.MaxUint32
	}
	return secs<<32 | uint64(frac)
}

// buildSenderReport assembles an RTCP SR for one SSRC and returns it split
// into the 8-byte header (used as AAD) and the 20-byte body (encrypted).
func buildSenderReport(ssrc, rtpTimestamp, packetCount, octetCount uint32, now time.Time) (header, body []byte, err error) {
	sr := rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     rtpTimestamp,
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
	raw, err := sr.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return raw[:8], raw[8:], nil
}
