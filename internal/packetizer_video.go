package internal

import (
	"fmt"
)

// NewVideoPacketizer selects the packetization strategy for the codec.
// VP9 and AV1 ride the VP8-style generic descriptor path the service
// accepts for those payload types.
func NewVideoPacketizer(codec VideoCodec, sender PacketSender, ssrc uint32, enc TransportEncryptor) (FrameSink, error) {
	switch codec {
	case CodecH264:
		return &AnnexBPacketizer{
			basePacketizer: newBasePacketizer(sender, ssrc, codec.PayloadType(), VideoClockRate, true, enc),
			naluHeaderLen:  1,
			buildFU:        buildH264FU,
		}, nil
	case CodecH265:
		return &AnnexBPacketizer{
			basePacketizer: newBasePacketizer(sender, ssrc, codec.PayloadType(), VideoClockRate, true, enc),
			naluHeaderLen:  2,
			buildFU:        buildHEVCFU,
		}, nil
	case CodecVP8, CodecVP9, CodecAV1:
		return &VP8Packetizer{
			basePacketizer: newBasePacketizer(sender, ssrc, codec.PayloadType(), VideoClockRate, true, enc),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
}

// VP8Packetizer splits frames into MTU chunks behind a two-byte descriptor
// and a 15-bit picture ID.
type VP8Packetizer struct {
	basePacketizer
	pictureID uint16
}

func (p *VP8Packetizer) SendFrame(frame []byte, frametimeMs float64) error {
	if len(frame) == 0 {
		return nil
	}

	chunks := partitionPayload(frame, MaxRTPPayload)
	sent, payloadBytes := 0, 0
	for i, chunk := range chunks {
		first := i == 0
		last := i == len(chunks)-1

		header, err := p.marshalHeader(last)
		if err != nil {
			return err
		}

		payload := make([]byte, 0, 4+len(chunk))
		descriptor := byte(0x80)
		if first {
			descriptor |= 0x10 // S bit: start of partition
		}
		payload = append(payload, descriptor, 0x80)
		payload = append(payload, 0x80|byte(p.pictureID>>8&0x7F), byte(p.pictureID))
		payload = append(payload, chunk...)

		packet, err := p.sealPacket(header, buildExtension(0), payload)
		if err != nil {
			return err
		}
		p.sender.SendPacket(packet)
		sent++
		payloadBytes += len(payload)
	}

	p.pictureID++
	return p.onFrameSent(sent, payloadBytes, frametimeMs)
}

// fuBuilder renders the fragmentation-unit header for one fragment of a
// NAL unit.
type fuBuilder func(nal []byte, first, last bool) []byte

// buildH264FU builds the 2-byte FU-A header (RFC 6184).
func buildH264FU(nal []byte, first, last bool) []byte {
	nalType := h264NALType(nal[0])
	indicator := (nal[0] & 0xE0) | h264NALFUA
	fuHeader := nalType
	if first {
		fuHeader |= 0x80
	} else if last {
		fuHeader |= 0x40
	}
	return []byte{indicator, fuHeader}
}

// buildHEVCFU builds the 3-byte FU header (RFC 7798): the 2-byte NAL header
// with the type field rewritten to 49, then the FU byte.
func buildHEVCFU(nal []byte, first, last bool) []byte {
	nalType := hevcNALType(nal[0])
	b0 := (nal[0] & 0x81) | (hevcNALFU << 1)
	fu := nalType
	if first {
		fu |= 0x80
	} else if last {
		fu |= 0x40
	}
	return []byte{b0, nal[1], fu}
}

// AnnexBPacketizer sends length-prefixed H.264/H.265 access units: single
// NAL unit packets when they fit the MTU, fragmentation units otherwise.
type AnnexBPacketizer struct {
	basePacketizer
	naluHeaderLen int
	buildFU       fuBuilder
}

func (p *AnnexBPacketizer) SendFrame(frame []byte, frametimeMs float64) error {
	nalus, err := splitNALUnits(frame)
	if err != nil {
		return err
	}

	sent, payloadBytes := 0, 0
	for ni, nal := range nalus {
		if len(nal) < p.naluHeaderLen {
			continue
		}
		lastNal := ni == len(nalus)-1

		if len(nal) <= MaxRTPPayload {
			header, err := p.marshalHeader(lastNal)
			if err != nil {
				return err
			}
			packet, err := p.sealPacket(header, buildExtension(0), nal)
			if err != nil {
				return err
			}
			p.sender.SendPacket(packet)
			sent++
			payloadBytes += len(nal)
			continue
		}

		// Fragment the payload after the NAL header; the header's type
		// information moves into the FU bytes.
		chunks := partitionPayload(nal[p.naluHeaderLen:], MaxRTPPayload)
		for ci, chunk := range chunks {
			first := ci == 0
			lastFrag := ci == len(chunks)-1

			header, err := p.marshalHeader(lastNal && lastFrag)
			if err != nil {
				return err
			}

			fu := p.buildFU(nal, first, lastFrag)
			payload := make([]byte, 0, len(fu)+len(chunk))
			payload = append(payload, fu...)
			payload = append(payload, chunk...)

			packet, err := p.sealPacket(header, buildExtension(0), payload)
			if err != nil {
				return err
			}
			p.sender.SendPacket(packet)
			sent++
			payloadBytes += len(payload)
		}
	}

	return p.onFrameSent(sent, payloadBytes, frametimeMs)
}
