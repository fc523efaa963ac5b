package internal

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxBitrate = 2500000

	// eofPollInterval paces pollEOF's progress log while playout runs.
	// pollEOF itself returns as soon as the demuxer has finished; the
	// playout ends once both feeders have drained their closed streams.
	eofPollInterval = 2 * time.Second
)

// PlayOptions tunes one playout session.
type PlayOptions struct {
	// ForceChaCha skips AES-256-GCM during mode selection.
	ForceChaCha bool
	// Bitrate is the advertised maximum video bitrate in bits/s.
	Bitrate int
}

// PlayStream runs the whole media pipeline for one MKV input: demux, voice
// handshake, IP discovery, protocol selection, then paced A/V playout until
// the container ends or ctx is cancelled. External cancellation resolves as
// success, not as an error.
func PlayStream(ctx context.Context, input io.Reader, gw *VoiceGateway, opts PlayOptions) error {
	if opts.Bitrate == 0 {
		opts.Bitrate = defaultMaxBitrate
	}

	dmx, err := DemuxMKV(ctx, input)
	if err != nil {
		return playResult(err)
	}

	params, err := gw.WaitReady(ctx)
	if err != nil {
		return playResult(err)
	}

	udp, err := NewUDPTransport(params.Address, params.Port)
	if err != nil {
		return err
	}
	defer udp.Close()

	ip, port, err := udp.DiscoverIP(ctx, params.AudioSSRC)
	if err != nil {
		return playResult(err)
	}

	codec := CodecH264
	if dmx.Video != nil {
		codec = dmx.Video.Codec
	}
	if err := gw.SelectProtocol(ip, port, codec, opts.ForceChaCha); err != nil {
		return err
	}

	key, mode, err := gw.WaitProtocolAck(ctx)
	if err != nil {
		return playResult(err)
	}
	audioEnc, err := NewTransportEncryptor(mode, key)
	if err != nil {
		return err
	}
	videoEnc, err := NewTransportEncryptor(mode, key)
	if err != nil {
		return err
	}
	if err := udp.SetupPacketizers(params.AudioSSRC, params.VideoSSRC, codec, audioEnc, videoEnc); err != nil {
		return err
	}
	udp.StartKeepalive(ctx)

	if err := gw.Speaking(SpeakingSoundshare); err != nil {
		return err
	}
	if dmx.Video != nil {
		if err := gw.SetVideo(true, VideoStreamParams{
			Width:     dmx.Video.Width,
			Height:    dmx.Video.Height,
			Framerate: int(math.Round(dmx.Video.FPS())),
			Bitrate:   opts.Bitrate,
		}); err != nil {
			return err
		}
	}
	defer func() {
		_ = gw.Speaking(SpeakingOff)
		_ = gw.SetVideo(false, VideoStreamParams{})
	}()

	group, gctx := errgroup.WithContext(ctx)

	var videoStream, audioStream *MediaStream
	if dmx.Video != nil {
		videoStream = NewMediaStream("video", 1000/dmx.Video.FPS(), udp.VideoPacketizer())
	}
	if dmx.Audio != nil {
		audioStream = NewMediaStream("audio", OpusFrameMs, udp.AudioPacketizer())
	}
	if videoStream != nil && audioStream != nil {
		videoStream.SyncWith(audioStream)
	}

	if videoStream != nil {
		packets := dmx.Video.Packets
		group.Go(func() error { return feedStream(gctx, videoStream, packets) })
	}
	if audioStream != nil {
		packets := dmx.Audio.Packets
		group.Go(func() error { return feedStream(gctx, audioStream, packets) })
	}
	group.Go(func() error { return pollEOF(gctx, dmx) })

	if err := group.Wait(); err != nil {
		return playResult(err)
	}
	return playResult(dmx.Err())
}

// feedStream drains one packet stream into its paced sink.
func feedStream(ctx context.Context, stream *MediaStream, packets <-chan *Packet) error {
	for {
		select {
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			if err := stream.WritePacket(ctx, pkt); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pollEOF watches for the demuxer finishing.
func pollEOF(ctx context.Context, dmx *Demuxer) error {
	ticker := time.NewTicker(eofPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dmx.Done():
			return nil
		case <-ticker.C:
			DebugLogPeriodic("player.eofpoll", eofPollInterval, "playout running\n")
		}
	}
}

// playResult classifies terminal errors: external cancellation resolves the
// play as success, everything else propagates.
func playResult(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
