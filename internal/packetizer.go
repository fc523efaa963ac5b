package internal

import (
	"math"
	"time"

	"github.com/pion/rtp"
)

const defaultSRIntervalMs = 1000

// basePacketizer carries the per-SSRC RTP session state shared by the
// audio and video strategies: sequence/timestamp arithmetic, AEAD framing,
// statistics, and the RTCP sender-report cadence.
type basePacketizer struct {
	sender      PacketSender
	enc         TransportEncryptor
	ssrc        uint32
	payloadType uint8
	clockRate   uint32
	extEnabled  bool

	sequence     uint16
	timestamp    uint32
	totalPackets uint32
	totalBytes   uint32

	mediaMs         float64
	lastRTCPMediaMs float64
	srIntervalMs    float64
	rtcpEnabled     bool

	now func() time.Time
}

func newBasePacketizer(sender PacketSender, ssrc uint32, payloadType uint8, clockRate uint32, extEnabled bool, enc TransportEncryptor) basePacketizer {
	return basePacketizer{
		sender:       sender,
		enc:          enc,
		ssrc:         ssrc,
		payloadType:  payloadType,
		clockRate:    clockRate,
		extEnabled:   extEnabled,
		srIntervalMs: defaultSRIntervalMs,
		rtcpEnabled:  true,
		now:          time.Now,
	}
}

// marshalHeader builds the 12-byte RTP header for the next packet and
// advances the sequence number. The extension bit is set here but the
// extension itself travels outside the AEAD, appended by sealPacket.
func (p *basePacketizer) marshalHeader(marker bool) ([]byte, error) {
	h := rtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    p.payloadType,
		SequenceNumber: p.sequence,
		Timestamp:      p.timestamp,
		SSRC:           p.ssrc,
	}
	buf, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	if p.extEnabled {
		buf[0] |= 0x10
	}
	p.sequence = nextSequence(p.sequence)
	return buf, nil
}

// sealPacket encrypts payload with the RTP header as AAD and assembles the
// wire packet: header || ext || ciphertext || nonce prefix. ext may be nil
// (audio packets carry no extension).
func (p *basePacketizer) sealPacket(header, ext, payload []byte) ([]byte, error) {
	if p.enc == nil {
		return nil, ErrEncryptorMissing
	}
	ciphertext, nonce, err := p.enc.Encrypt(payload, header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+len(ext)+len(ciphertext)+NoncePrefixLen)
	out = append(out, header...)
	out = append(out, ext...)
	out = append(out, ciphertext...)
	out = append(out, nonce[:NoncePrefixLen]...)
	return out, nil
}

// onFrameSent runs the common epilogue after all packets of a frame went
// out: statistics, the SR cadence check, then media time and RTP timestamp
// advancement.
func (p *basePacketizer) onFrameSent(packets int, payloadBytes int, frametimeMs float64) error {
	p.totalPackets += uint32(packets)
	p.totalBytes += uint32(payloadBytes)

	if p.rtcpEnabled && p.totalPackets > 0 &&
		math.Floor(p.mediaMs/p.srIntervalMs) > math.Floor(p.lastRTCPMediaMs/p.srIntervalMs) {
		if err := p.sendSenderReport(); err != nil {
			return err
		}
		p.lastRTCPMediaMs = p.mediaMs
	}

	p.mediaMs += frametimeMs
	inc := uint32(math.Round(frametimeMs * float64(p.clockRate) / 1000))
	p.timestamp = nextTimestamp(p.timestamp, inc)
	return nil
}

// sendSenderReport seals the 20-byte SR body with the 8-byte SR header as
// AAD; the wire packet is header || ciphertext || nonce prefix.
func (p *basePacketizer) sendSenderReport() error {
	if p.enc == nil {
		return ErrEncryptorMissing
	}
	header, body, err := buildSenderReport(p.ssrc, p.timestamp, p.totalPackets, p.totalBytes, p.now())
	if err != nil {
		return err
	}
	ciphertext, nonce, err := p.enc.Encrypt(body, header)
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(header)+len(ciphertext)+NoncePrefixLen)
	out = append(out, header...)
	out = append(out, ciphertext...)
	out = append(out, nonce[:NoncePrefixLen]...)
	p.sender.SendPacket(out)
	return nil
}
