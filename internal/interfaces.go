package internal

// FrameSink consumes whole access units / audio frames and turns them into
// encrypted RTP on the wire. Implemented by the packetizers.
type FrameSink interface {
	// SendFrame packetizes and transmits one frame. frametimeMs is the
	// frame's nominal duration; it drives the RTP clock and SR cadence.
	SendFrame(frame []byte, frametimeMs float64) error
}

// PacketSender is the send surface packetizers write datagrams to.
// Implemented by UDPTransport; sends are fire-and-forget and
// single-datagram-atomic, so both packetizers may share one sender.
type PacketSender interface {
	SendPacket(b []byte)
}
