package internal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/remko/go-mkvparse"
)

// Packet is one demuxed elementary-stream frame.
type Packet struct {
	Data        []byte
	PTSMicros   int64
	StreamIndex uint32
}

// VideoTrackInfo describes the first video track of the container.
type VideoTrackInfo struct {
	Codec        VideoCodec
	Width        int
	Height       int
	FramerateNum int
	FramerateDen int
	Params       *ParameterSets
	Packets      <-chan *Packet
}

// FPS returns the track framerate as a float, falling back to 30 when the
// container carried no DefaultDuration.
func (v *VideoTrackInfo) FPS() float64 {
	if v.FramerateDen == 0 {
		return 30
	}
	return float64(v.FramerateNum) / float64(v.FramerateDen)
}

// AudioTrackInfo describes the first audio track (always Opus).
type AudioTrackInfo struct {
	SampleRate int
	Channels   int
	Packets    <-chan *Packet
}

const (
	// Matroska track types.
	mkvTrackTypeVideo = 1
	mkvTrackTypeAudio = 2

	// High-water mark of each packet stream. A full channel blocks the
	// parser goroutine, which stalls the upstream byte source.
	packetStreamDepth = 128

	defaultTimescaleNs = 1000000

	videoStreamIndex uint32 = 0
	audioStreamIndex uint32 = 1
)

// Demuxer parses a Matroska byte stream and exposes one lazy packet stream
// per selected track. Streams end when the container ends or on fatal error.
type Demuxer struct {
	Video *VideoTrackInfo
	Audio *AudioTrackInfo

	done chan struct{}
	err  error
}

// Done is closed once the parser goroutine has finished and both packet
// streams are closed.
func (d *Demuxer) Done() <-chan struct{} { return d.done }

// Err reports the fatal parse error, if any, after Done is closed.
func (d *Demuxer) Err() error { return d.err }

// DemuxMKV starts parsing the MKV byte stream and returns once the track
// headers are known. The packet streams fill from a single parser goroutine;
// cancelling ctx destroys them and drops pending packets.
func DemuxMKV(ctx context.Context, r io.Reader) (*Demuxer, error) {
	d := &Demuxer{done: make(chan struct{})}
	h := &demuxHandler{
		ctx:       ctx,
		d:         d,
		timescale: defaultTimescaleNs,
		ready:     make(chan struct{}),
	}

	go func() {
		defer close(d.done)
		err := mkvparse.Parse(&retryReader{ctx: ctx, r: r}, h)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) &&
			!errors.Is(err, context.Canceled) {
			d.err = err
		}
		if h.video != nil {
			close(h.video.out)
		}
		if h.audio != nil {
			close(h.audio.out)
		}
	}()

	select {
	case <-h.ready:
		return d, nil
	case <-d.done:
		if d.err != nil {
			return nil, d.err
		}
		return nil, fmt.Errorf("container ended before track headers")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type demuxTrack struct {
	number      int64
	trackType   int64
	codecID     string
	private     []byte
	width       int
	height      int
	sampleRate  int
	channels    int
	durationNs  int64
	codec       VideoCodec
	params      *ParameterSets
	streamIndex uint32
	out         chan *Packet
}

type demuxHandler struct {
	ctx context.Context
	d   *Demuxer

	timescale   int64
	clusterTime int64

	inTrackEntry bool
	inVideo      bool
	inAudio      bool
	current      demuxTrack

	video *demuxTrack
	audio *demuxTrack

	ready       chan struct{}
	headersDone bool
}

func (h *demuxHandler) HandleMasterBegin(id mkvparse.ElementID, info mkvparse.ElementInfo) (bool, error) {
	switch id {
	case mkvparse.SegmentElement, mkvparse.InfoElement, mkvparse.TracksElement,
		mkvparse.ClusterElement, mkvparse.BlockGroupElement:
		return true, nil
	case mkvparse.TrackEntryElement:
		h.inTrackEntry = true
		h.current = demuxTrack{number: -1, trackType: -1}
		return true, nil
	case mkvparse.VideoElement:
		h.inVideo = true
		return true, nil
	case mkvparse.AudioElement:
		h.inAudio = true
		return true, nil
	}
	return false, nil
}

func (h *demuxHandler) HandleMasterEnd(id mkvparse.ElementID, info mkvparse.ElementInfo) error {
	switch id {
	case mkvparse.TrackEntryElement:
		h.inTrackEntry = false
		h.commitTrackEntry()
	case mkvparse.VideoElement:
		h.inVideo = false
	case mkvparse.AudioElement:
		h.inAudio = false
	case mkvparse.TracksElement:
		return h.finalizeTracks()
	}
	return nil
}

func (h *demuxHandler) HandleString(id mkvparse.ElementID, value string, info mkvparse.ElementInfo) error {
	if id == mkvparse.CodecIDElement && h.inTrackEntry {
		h.current.codecID = value
	}
	return nil
}

func (h *demuxHandler) HandleInteger(id mkvparse.ElementID, value int64, info mkvparse.ElementInfo) error {
	switch id {
	case mkvparse.TrackNumberElement:
		if h.inTrackEntry {
			h.current.number = value
		}
	case mkvparse.TrackTypeElement:
		if h.inTrackEntry {
			h.current.trackType = value
		}
	case mkvparse.PixelWidthElement:
		if h.inVideo {
			h.current.width = int(value)
		}
	case mkvparse.PixelHeightElement:
		if h.inVideo {
			h.current.height = int(value)
		}
	case mkvparse.ChannelsElement:
		if h.inAudio {
			h.current.channels = int(value)
		}
	case mkvparse.DefaultDurationElement:
		if h.inTrackEntry {
			h.current.durationNs = value
		}
	case mkvparse.TimecodeScaleElement:
		h.timescale = value
	case mkvparse.TimecodeElement:
		// Cluster timecode. Unsigned in Matroska; negative values would
		// rewind PTS past 32767ms.
		h.clusterTime = value
	}
	return nil
}

func (h *demuxHandler) HandleFloat(id mkvparse.ElementID, value float64, info mkvparse.ElementInfo) error {
	if id == mkvparse.SamplingFrequencyElement && h.inAudio {
		h.current.sampleRate = int(value)
	}
	return nil
}

func (h *demuxHandler) HandleDate(id mkvparse.ElementID, value time.Time, info mkvparse.ElementInfo) error {
	return nil
}

func (h *demuxHandler) HandleBinary(id mkvparse.ElementID, value []byte, info mkvparse.ElementInfo) error {
	switch id {
	case mkvparse.CodecPrivateElement:
		if h.inTrackEntry {
			h.current.private = append([]byte(nil), value...)
		}
	case mkvparse.SimpleBlockElement, mkvparse.BlockElement:
		return h.handleBlock(value)
	}
	return nil
}

func (h *demuxHandler) commitTrackEntry() {
	switch h.current.trackType {
	case mkvTrackTypeVideo:
		if h.video == nil {
			t := h.current
			h.video = &t
		}
	case mkvTrackTypeAudio:
		if h.audio == nil {
			t := h.current
			h.audio = &t
		}
	}
}

// finalizeTracks validates the selected tracks against the codec whitelist
// and opens the packet streams.
func (h *demuxHandler) finalizeTracks() error {
	if h.headersDone {
		return nil
	}
	h.headersDone = true

	if h.video != nil {
		codec, err := videoCodecFromMKV(h.video.codecID)
		if err != nil {
			return err
		}
		h.video.codec = codec
		params, err := parseCodecPrivate(codec, h.video.private)
		if err != nil {
			return err
		}
		h.video.params = params
		h.video.streamIndex = videoStreamIndex
		h.video.out = make(chan *Packet, packetStreamDepth)

		num, den := 0, 0
		if h.video.durationNs > 0 {
			num, den = 1000000000, int(h.video.durationNs)
		}
		h.d.Video = &VideoTrackInfo{
			Codec:        codec,
			Width:        h.video.width,
			Height:       h.video.height,
			FramerateNum: num,
			FramerateDen: den,
			Params:       params,
			Packets:      h.video.out,
		}
		DebugLog("Video track %d: %s %dx%d\n", h.video.number, codec, h.video.width, h.video.height)
	}
	if h.audio != nil {
		if h.audio.codecID != "A_OPUS" {
			return fmt.Errorf("%w: audio codec %q", ErrUnsupportedCodec, h.audio.codecID)
		}
		h.audio.streamIndex = audioStreamIndex
		h.audio.out = make(chan *Packet, packetStreamDepth)
		h.d.Audio = &AudioTrackInfo{
			SampleRate: h.audio.sampleRate,
			Channels:   h.audio.channels,
			Packets:    h.audio.out,
		}
		DebugLog("Audio track %d: opus %dHz %dch\n", h.audio.number, h.audio.sampleRate, h.audio.channels)
	}

	close(h.ready)
	return nil
}

// handleBlock parses a SimpleBlock/Block payload: track number vint,
// 16-bit relative timestamp, flags byte, frame data.
func (h *demuxHandler) handleBlock(data []byte) error {
	if !h.headersDone {
		return nil
	}
	trackNum, vintSize := parseVint(data)
	if vintSize == 0 || len(data) < vintSize+3 {
		return fmt.Errorf("malformed block: %d bytes", len(data))
	}

	relativeTs := int16(binary.BigEndian.Uint16(data[vintSize : vintSize+2]))
	frameData := data[vintSize+3:]

	var track *demuxTrack
	switch {
	case h.video != nil && int64(trackNum) == h.video.number:
		track = h.video
	case h.audio != nil && int64(trackNum) == h.audio.number:
		track = h.audio
	default:
		return nil
	}

	ticks := h.clusterTime + int64(relativeTs)
	ptsMicros := ticks * h.timescale / 1000

	data = append([]byte(nil), frameData...)
	if track == h.video {
		injected, err := track.params.Inject(track.codec, data)
		if err != nil {
			return fmt.Errorf("parameter set injection: %w", err)
		}
		data = injected
	}

	return h.sendPacket(track, &Packet{
		Data:        data,
		PTSMicros:   ptsMicros,
		StreamIndex: track.streamIndex,
	})
}

func (h *demuxHandler) sendPacket(track *demuxTrack, pkt *Packet) error {
	select {
	case track.out <- pkt:
		return nil
	default:
	}
	// Stream is at its high-water mark: block the parser (and with it the
	// upstream byte source) until the consumer drains or the session dies.
	select {
	case track.out <- pkt:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// parseVint decodes a Matroska variable-size integer, returning the value
// and the number of bytes consumed (0 on malformed input).
func parseVint(data []byte) (uint64, int) {
	if len(data) == 0 {
		return 0, 0
	}

	first := data[0]
	var size int
	var mask byte

	switch {
	case first&0x80 != 0:
		size = 1
		mask = 0x7F
	case first&0x40 != 0:
		size = 2
		mask = 0x3F
	case first&0x20 != 0:
		size = 3
		mask = 0x1F
	case first&0x10 != 0:
		size = 4
		mask = 0x0F
	default:
		return 0, 0
	}

	if len(data) < size {
		return 0, 0
	}

	value := uint64(first & mask)
	for i := 1; i < size; i++ {
		value = (value << 8) | uint64(data[i])
	}

	return value, size
}

// retryReader tolerates EAGAIN from non-blocking pipe sources and aborts
// reads once the session context is cancelled.
type retryReader struct {
	ctx context.Context
	r   io.Reader
}

func (rr *retryReader) Read(p []byte) (int, error) {
	for {
		if err := rr.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := rr.r.Read(p)
		if n == 0 && errors.Is(err, syscall.EAGAIN) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return n, err
	}
}
