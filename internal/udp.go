package internal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	discoveryRequestType  = 1
	discoveryResponseType = 2
	discoveryPacketLen    = 74
	discoveryBodyLen      = 70
	discoveryTimeout      = 10 * time.Second

	keepaliveInterval = 5 * time.Second
)

// UDPTransport owns the voice UDP socket: discovery handshake, packetizer
// setup, and datagram sends toward the endpoint learned from READY.
type UDPTransport struct {
	mu    sync.Mutex
	conn  *net.UDPConn
	ready bool

	videoPacketizer FrameSink
	audioPacketizer FrameSink

	keepaliveSeq uint64
}

// NewUDPTransport binds an ephemeral IPv4 socket addressed to the remote
// voice endpoint.
func NewUDPTransport(remoteIP string, remotePort uint16) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(remoteIP, fmt.Sprintf("%d", remotePort)))
	if err != nil {
		return nil, fmt.Errorf("resolve voice endpoint: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial voice endpoint: %w", err)
	}
	return &UDPTransport{conn: conn}, nil
}

// DiscoverIP performs the v8 IP discovery handshake and returns the
// NAT-mapped public address and port of this socket.
//
// Request: type=1 u16, length=70 u16, ssrc u32, 68 zero bytes (74 total).
// Response: type u16, length u16, ssrc u32, 64-byte NUL-padded ASCII ip,
// port u16 BE.
func (t *UDPTransport) DiscoverIP(ctx context.Context, ssrc uint32) (string, uint16, error) {
	req := make([]byte, discoveryPacketLen)
	binary.BigEndian.PutUint16(req[0:2], discoveryRequestType)
	binary.BigEndian.PutUint16(req[2:4], discoveryBodyLen)
	binary.BigEndian.PutUint32(req[4:8], ssrc)

	if _, err := t.conn.Write(req); err != nil {
		return "", 0, fmt.Errorf("send discovery request: %w", err)
	}

	deadline := time.Now().Add(discoveryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return "", 0, err
	}
	defer t.conn.SetReadDeadline(time.Time{})

	resp := make([]byte, 128)
	n, err := t.conn.Read(resp)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return "", 0, ErrDiscoveryTimeout
		}
		return "", 0, fmt.Errorf("read discovery response: %w", err)
	}
	if n < discoveryPacketLen {
		return "", 0, fmt.Errorf("short discovery response: %d bytes", n)
	}

	ip := strings.TrimRight(string(resp[8:72]), "\x00 \t")
	port := binary.BigEndian.Uint16(resp[72:74])
	DebugLog("IP discovery: %s:%d\n", ip, port)

	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
	return ip, port, nil
}

// SetupPacketizers instantiates the audio and video packetizers once the
// transport key is known. Each SSRC gets its own encryptor so the nonce
// counters never collide.
func (t *UDPTransport) SetupPacketizers(audioSSRC, videoSSRC uint32, codec VideoCodec, audioEnc, videoEnc TransportEncryptor) error {
	video, err := NewVideoPacketizer(codec, t, videoSSRC, videoEnc)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audioPacketizer = NewOpusPacketizer(t, audioSSRC, audioEnc)
	t.videoPacketizer = video
	return nil
}

// VideoPacketizer returns the video sink, nil before SetupPacketizers.
func (t *UDPTransport) VideoPacketizer() FrameSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.videoPacketizer
}

// AudioPacketizer returns the audio sink, nil before SetupPacketizers.
func (t *UDPTransport) AudioPacketizer() FrameSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioPacketizer
}

// SendPacket writes one datagram. Packets are dropped silently while the
// transport is not ready (before discovery completes) or after Close; the
// OS socket write is single-datagram-atomic, so both packetizers may call
// this concurrently.
func (t *UDPTransport) SendPacket(b []byte) {
	t.mu.Lock()
	conn, ready := t.conn, t.ready
	t.mu.Unlock()
	if conn == nil || !ready {
		return
	}
	if _, err := conn.Write(b); err != nil {
		DebugLogPeriodic("udp.send", time.Second, "UDP send failed: %v\n", err)
	}
}

// StartKeepalive sends a counter datagram every 5 seconds until ctx ends,
// keeping the NAT mapping warm while the session runs.
func (t *UDPTransport) StartKeepalive(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				buf := make([]byte, 8)
				binary.BigEndian.PutUint64(buf, t.keepaliveSeq)
				t.keepaliveSeq++
				t.SendPacket(buf)
			}
		}
	}()
}

// Close shuts the socket down; safe to call more than once.
func (t *UDPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.ready = false
}
