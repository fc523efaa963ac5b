package internal

// OpusPacketizer maps one Opus frame onto one RTP packet: marker set, no
// extension, the raw frame sealed with the header as AAD.
type OpusPacketizer struct {
	basePacketizer
}

func NewOpusPacketizer(sender PacketSender, ssrc uint32, enc TransportEncryptor) *OpusPacketizer {
	return &OpusPacketizer{
		basePacketizer: newBasePacketizer(sender, ssrc, OpusPayloadType, OpusClockRate, false, enc),
	}
}

func (p *OpusPacketizer) SendFrame(frame []byte, frametimeMs float64) error {
	if len(frame) == 0 {
		return nil
	}

	header, err := p.marshalHeader(true)
	if err != nil {
		return err
	}
	packet, err := p.sealPacket(header, nil, frame)
	if err != nil {
		return err
	}
	p.sender.SendPacket(packet)

	return p.onFrameSent(1, len(frame), frametimeMs)
}
