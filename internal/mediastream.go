package internal

import (
	"context"
	"time"
)

// catchUpThresholdMs: once a packet is more than this late against wall
// clock, pacing is dropped entirely until the stream catches back up.
const catchUpThresholdMs = 200

// MediaStream paces demuxed packets against wall clock before handing them
// to its packetizer. Two streams (video and audio) run side by side; linking
// them shares no state beyond the back-reference, because both pace against
// the same wall clock.
type MediaStream struct {
	name            string
	frameIntervalMs float64
	sink            FrameSink

	startWall  time.Time
	started    bool
	lastPTSMs  int64
	syncStream *MediaStream
}

// NewMediaStream creates a paced sink. frameIntervalMs is the nominal frame
// duration handed to the packetizer: 1000/fps for video, fixed 20ms for
// Opus audio.
func NewMediaStream(name string, frameIntervalMs float64, sink FrameSink) *MediaStream {
	return &MediaStream{
		name:            name,
		frameIntervalMs: frameIntervalMs,
		sink:            sink,
	}
}

// SyncWith links the two sibling streams bidirectionally.
func (m *MediaStream) SyncWith(other *MediaStream) {
	if other == nil || other == m {
		return
	}
	m.syncStream = other
	other.syncStream = m
}

// LastPTSMs exposes the most recent presentation time to the sibling.
func (m *MediaStream) LastPTSMs() int64 { return m.lastPTSMs }

// WritePacket paces one packet and forwards it to the packetizer.
//
// diff = pts - elapsed wall time since the first packet:
// below -200ms pacing is dropped to catch up, positive diff suspends until
// the presentation time arrives, otherwise the packet goes immediately.
func (m *MediaStream) WritePacket(ctx context.Context, pkt *Packet) error {
	ptsMs := pkt.PTSMicros / 1000

	if !m.started {
		m.started = true
		m.startWall = time.Now()
	}

	elapsedMs := time.Since(m.startWall).Milliseconds()
	diff := ptsMs - elapsedMs

	switch {
	case diff < -catchUpThresholdMs:
		DebugLogPeriodic("mediastream."+m.name+".late", time.Second,
			"%s stream %dms behind, dropping pacing\n", m.name, -diff)
	case diff > 0:
		timer := time.NewTimer(time.Duration(diff) * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	m.lastPTSMs = ptsMs
	return m.sink.SendFrame(pkt.Data, m.frameIntervalMs)
}
