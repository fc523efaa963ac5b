package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
)

// Voice gateway v8 opcodes.
const (
	opIdentify          = 0
	opSelectProtocol    = 1
	opReady             = 2
	opHeartbeat         = 3
	opSelectProtocolAck = 4
	opSpeaking          = 5
	opHeartbeatAck      = 6
	opResume            = 7
	opHello             = 8
	opResumed           = 9
	opVideo             = 12
)

// Speaking flags for op 5.
const (
	SpeakingOff        uint32 = 0
	SpeakingMicrophone uint32 = 1
	SpeakingSoundshare uint32 = 2
)

// Connection states of the gateway machine.
const (
	stateIdle        = "idle"
	stateConnecting  = "connecting"
	stateIdentifying = "identifying"
	stateReady       = "ready"
	stateNegotiated  = "negotiated"
	stateRunning     = "running"
	stateResuming    = "resuming"
	stateClosed      = "closed"
)

// resumableCloseCode reports whether a WebSocket close code allows a
// session resume: 4015 (server crash) or any pre-4000 code.
func resumableCloseCode(code int) bool {
	return code == 4015 || code < 4000
}

// WebRtcParams is everything READY teaches us about the media plane.
type WebRtcParams struct {
	Address        string
	Port           uint16
	AudioSSRC      uint32
	VideoSSRC      uint32
	RtxSSRC        uint32
	SupportedModes []string
}

type gatewayMessage struct {
	Op  int             `json:"op"`
	D   json.RawMessage `json:"d,omitempty"`
	Seq *int64          `json:"seq,omitempty"`
}

type helloPayload struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type readyStream struct {
	Type    string `json:"type"`
	SSRC    uint32 `json:"ssrc"`
	RtxSSRC uint32 `json:"rtx_ssrc"`
}

type readyPayload struct {
	SSRC    uint32        `json:"ssrc"`
	IP      string        `json:"ip"`
	Port    uint16        `json:"port"`
	Modes   []string      `json:"modes"`
	Streams []readyStream `json:"streams"`
}

type protocolAckPayload struct {
	SecretKey []int  `json:"secret_key"`
	Mode      string `json:"mode"`
}

type identifyStream struct {
	Type    string `json:"type"`
	Rid     string `json:"rid"`
	Quality int    `json:"quality"`
}

type identifyPayload struct {
	ServerID  string           `json:"server_id"`
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id"`
	Token     string           `json:"token"`
	Video     bool             `json:"video"`
	Streams   []identifyStream `json:"streams"`
}

type resumePayload struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	SeqAck    int64  `json:"seq_ack"`
}

type heartbeatPayload struct {
	T      int64 `json:"t"`
	SeqAck int64 `json:"seq_ack"`
}

type codecDescription struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Priority       int    `json:"priority"`
	PayloadType    uint8  `json:"payload_type"`
	RtxPayloadType uint8  `json:"rtx_payload_type,omitempty"`
}

type selectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

type selectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Codecs   []codecDescription `json:"codecs"`
	Data     selectProtocolData `json:"data"`
}

type speakingPayload struct {
	Delay    int    `json:"delay"`
	Speaking uint32 `json:"speaking"`
	SSRC     uint32 `json:"ssrc"`
}

type videoResolution struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type videoStream struct {
	Type          string          `json:"type"`
	Rid           string          `json:"rid"`
	SSRC          uint32          `json:"ssrc"`
	Active        bool            `json:"active"`
	Quality       int             `json:"quality"`
	RtxSSRC       uint32          `json:"rtx_ssrc"`
	MaxBitrate    int             `json:"max_bitrate"`
	MaxFramerate  int             `json:"max_framerate"`
	MaxResolution videoResolution `json:"max_resolution"`
}

type videoPayload struct {
	AudioSSRC uint32        `json:"audio_ssrc"`
	VideoSSRC uint32        `json:"video_ssrc"`
	RtxSSRC   uint32        `json:"rtx_ssrc"`
	Streams   []videoStream `json:"streams"`
}

// VideoStreamParams describes the single advertised simulcast layer.
type VideoStreamParams struct {
	Width     int
	Height    int
	Framerate int
	Bitrate   int
}

// VoiceGateway is the resumable WebSocket client for the voice service's
// v8 control plane. It opens once session_id (from VOICE_STATE_UPDATE) and
// endpoint/token (from VOICE_SERVER_UPDATE) are both present.
type VoiceGateway struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	machine *fsm.FSM
	ws      *websocket.Conn

	serverID string
	userID   string

	sessionID string
	endpoint  string
	token     string

	seqAck     int64
	started    bool
	resuming   bool
	wasRunning bool

	params    *WebRtcParams
	secretKey []byte
	mode      string

	heartbeatCancel context.CancelFunc

	readyOnce sync.Once
	readyCh   chan struct{}
	ackOnce   sync.Once
	ackCh     chan struct{}
	fatalOnce sync.Once
	fatalCh   chan struct{}
	fatalErr  error
}

// NewVoiceGateway creates an idle gateway for one voice session. serverID
// is the guild id, or the channel id for DM calls.
func NewVoiceGateway(serverID, userID string) *VoiceGateway {
	g := &VoiceGateway{
		serverID: serverID,
		userID:   userID,
		seqAck:   -1,
		readyCh:  make(chan struct{}),
		ackCh:    make(chan struct{}),
		fatalCh:  make(chan struct{}),
	}
	g.machine = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: "connect", Src: []string{stateIdle, stateClosed, stateResuming}, Dst: stateConnecting},
			{Name: "hello", Src: []string{stateConnecting}, Dst: stateIdentifying},
			{Name: "ready", Src: []string{stateIdentifying}, Dst: stateReady},
			{Name: "negotiate", Src: []string{stateReady}, Dst: stateNegotiated},
			{Name: "run", Src: []string{stateNegotiated, stateResuming}, Dst: stateRunning},
			{Name: "resume", Src: []string{stateConnecting, stateIdentifying, stateReady, stateNegotiated, stateRunning}, Dst: stateResuming},
			{Name: "close", Src: []string{"*"}, Dst: stateClosed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				DebugLog("voice gateway: %s -> %s (%s)\n", e.Src, e.Dst, e.Event)
			},
		},
	)
	return g
}

// State returns the current machine state.
func (g *VoiceGateway) State() string { return g.machine.Current() }

// SetSession stores the session id from VOICE_STATE_UPDATE. Idempotent;
// connects once both halves are present.
func (g *VoiceGateway) SetSession(sessionID string) {
	g.mu.Lock()
	g.sessionID = sessionID
	g.mu.Unlock()
	g.maybeConnect()
}

// SetServer stores endpoint and token from VOICE_SERVER_UPDATE. Idempotent;
// connects once both halves are present.
func (g *VoiceGateway) SetServer(endpoint, token string) {
	g.mu.Lock()
	g.endpoint = endpoint
	g.token = token
	g.mu.Unlock()
	g.maybeConnect()
}

func (g *VoiceGateway) maybeConnect() {
	g.mu.Lock()
	if g.started || g.sessionID == "" || g.endpoint == "" || g.token == "" {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	go g.connectLoop()
}

func (g *VoiceGateway) gatewayURL() string {
	endpoint := g.endpoint
	// Endpoints normally arrive as bare hostnames (sometimes with a stale
	// port); a pre-schemed endpoint is used verbatim.
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return fmt.Sprintf("%s/?v=8", strings.TrimSuffix(endpoint, "/"))
	}
	endpoint = strings.TrimSuffix(endpoint, ":80")
	endpoint = strings.TrimSuffix(endpoint, ":443")
	return fmt.Sprintf("wss://%s/?v=8", endpoint)
}

// connectLoop dials the gateway and services it until the connection dies;
// resumable closes re-enter the loop, everything else surfaces as fatal.
func (g *VoiceGateway) connectLoop() {
	for {
		g.mu.Lock()
		resuming := g.resuming
		g.mu.Unlock()
		// A resuming session keeps the RESUMING state across the redial;
		// RESUMED moves it straight back to RUNNING.
		if !resuming {
			if err := g.machine.Event(context.Background(), "connect"); err != nil {
				g.fail(fmt.Errorf("%w: %v", ErrGatewayFatal, err))
				return
			}
		}

		ws, _, err := websocket.DefaultDialer.Dial(g.gatewayURL(), nil)
		if err != nil {
			g.fail(fmt.Errorf("dial voice gateway: %w", err))
			return
		}
		g.mu.Lock()
		g.ws = ws
		g.mu.Unlock()

		err = g.readPump(ws)
		g.stopHeartbeat()

		closeErr, isClose := err.(*websocket.CloseError)
		if isClose && resumableCloseCode(closeErr.Code) {
			g.mu.Lock()
			// Sessions that never reached RUNNING reconnect through the
			// identify path instead.
			g.resuming = g.wasRunning
			resume := g.resuming
			g.mu.Unlock()
			DebugLog("voice gateway closed (%d), reconnecting (resume=%v)\n", closeErr.Code, resume)
			_ = g.machine.Event(context.Background(), "resume")
			continue
		}

		g.mu.Lock()
		closed := g.ws == nil // Close() already ran
		g.mu.Unlock()
		if closed || err == nil {
			return
		}
		g.fail(fmt.Errorf("%w: %v", ErrGatewayFatal, err))
		return
	}
}

func (g *VoiceGateway) readPump(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var msg gatewayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			DebugLog("voice gateway: malformed message: %v\n", err)
			continue
		}
		if msg.Seq != nil {
			g.mu.Lock()
			g.seqAck = *msg.Seq
			g.mu.Unlock()
		}
		if err := g.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (g *VoiceGateway) handleMessage(msg *gatewayMessage) error {
	switch msg.Op {
	case opHello:
		var hello helloPayload
		if err := json.Unmarshal(msg.D, &hello); err != nil {
			return fmt.Errorf("parse HELLO: %w", err)
		}
		g.startHeartbeat(time.Duration(hello.HeartbeatInterval) * time.Millisecond)

		g.mu.Lock()
		resuming := g.resuming
		g.mu.Unlock()
		if resuming {
			return g.sendResume()
		}
		_ = g.machine.Event(context.Background(), "hello")
		return g.sendIdentify()

	case opReady:
		var ready readyPayload
		if err := json.Unmarshal(msg.D, &ready); err != nil {
			return fmt.Errorf("parse READY: %w", err)
		}
		params := &WebRtcParams{
			Address:        ready.IP,
			Port:           ready.Port,
			AudioSSRC:      ready.SSRC,
			SupportedModes: ready.Modes,
		}
		if len(ready.Streams) > 0 {
			params.VideoSSRC = ready.Streams[0].SSRC
			params.RtxSSRC = ready.Streams[0].RtxSSRC
		}
		g.mu.Lock()
		g.params = params
		g.mu.Unlock()
		_ = g.machine.Event(context.Background(), "ready")
		g.readyOnce.Do(func() { close(g.readyCh) })
		return nil

	case opSelectProtocolAck:
		var ack protocolAckPayload
		if err := json.Unmarshal(msg.D, &ack); err != nil {
			return fmt.Errorf("parse SELECT_PROTOCOL_ACK: %w", err)
		}
		key := make([]byte, len(ack.SecretKey))
		for i, v := range ack.SecretKey {
			key[i] = byte(v)
		}
		g.mu.Lock()
		g.secretKey = key
		g.mode = ack.Mode
		g.mu.Unlock()
		_ = g.machine.Event(context.Background(), "negotiate")
		g.ackOnce.Do(func() { close(g.ackCh) })
		return nil

	case opResumed:
		g.mu.Lock()
		g.resuming = false
		g.mu.Unlock()
		_ = g.machine.Event(context.Background(), "run")
		return nil

	case opSpeaking, opHeartbeatAck:
		return nil

	default:
		if msg.Op >= 4000 {
			// Server-signalled error; surfaced, never resumed.
			return fmt.Errorf("%w: server error op %d", ErrGatewayFatal, msg.Op)
		}
		DebugLog("voice gateway: ignoring op %d\n", msg.Op)
		return nil
	}
}

func (g *VoiceGateway) sendOpcode(op int, d any) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(gatewayMessage{Op: op, D: payload})
	if err != nil {
		return err
	}

	g.mu.Lock()
	ws := g.ws
	g.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("voice gateway not connected")
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, msg)
}

func (g *VoiceGateway) sendIdentify() error {
	g.mu.Lock()
	p := identifyPayload{
		ServerID:  g.serverID,
		UserID:    g.userID,
		SessionID: g.sessionID,
		Token:     g.token,
		Video:     true,
		Streams:   []identifyStream{{Type: "screen", Rid: "100", Quality: 100}},
	}
	g.mu.Unlock()
	return g.sendOpcode(opIdentify, p)
}

func (g *VoiceGateway) sendResume() error {
	g.mu.Lock()
	p := resumePayload{
		ServerID:  g.serverID,
		SessionID: g.sessionID,
		Token:     g.token,
		SeqAck:    g.seqAck,
	}
	g.mu.Unlock()
	return g.sendOpcode(opResume, p)
}

func (g *VoiceGateway) startHeartbeat(interval time.Duration) {
	g.stopHeartbeat()
	ctx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.heartbeatCancel = cancel
	g.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.mu.Lock()
				seq := g.seqAck
				g.mu.Unlock()
				if err := g.sendOpcode(opHeartbeat, heartbeatPayload{
					T:      time.Now().UnixMilli(),
					SeqAck: seq,
				}); err != nil {
					DebugLog("voice gateway: heartbeat failed: %v\n", err)
					return
				}
			}
		}
	}()
}

func (g *VoiceGateway) stopHeartbeat() {
	g.mu.Lock()
	cancel := g.heartbeatCancel
	g.heartbeatCancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (g *VoiceGateway) fail(err error) {
	g.fatalOnce.Do(func() {
		g.fatalErr = err
		close(g.fatalCh)
	})
	_ = g.machine.Event(context.Background(), "close")
}

// Err returns the fatal gateway error, if any.
func (g *VoiceGateway) Err() error {
	select {
	case <-g.fatalCh:
		return g.fatalErr
	default:
		return nil
	}
}

// WaitReady blocks until READY populated the session parameters.
func (g *VoiceGateway) WaitReady(ctx context.Context) (*WebRtcParams, error) {
	select {
	case <-g.readyCh:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.params, nil
	case <-g.fatalCh:
		return nil, g.fatalErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitProtocolAck blocks until SELECT_PROTOCOL_ACK delivered the transport
// key, returning the 32-byte secret and the negotiated mode.
func (g *VoiceGateway) WaitProtocolAck(ctx context.Context) ([]byte, string, error) {
	select {
	case <-g.ackCh:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.secretKey, g.mode, nil
	case <-g.fatalCh:
		return nil, "", g.fatalErr
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// Params returns the READY parameters, nil before READY.
func (g *VoiceGateway) Params() *WebRtcParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.params
}

// SelectProtocol announces the discovered address and the chosen AEAD mode.
func (g *VoiceGateway) SelectProtocol(address string, port uint16, codec VideoCodec, forceChaCha bool) error {
	g.mu.Lock()
	params := g.params
	g.mu.Unlock()
	if params == nil {
		return fmt.Errorf("SELECT_PROTOCOL before READY")
	}

	mode := SelectMode(params.SupportedModes, forceChaCha)
	return g.sendOpcode(opSelectProtocol, selectProtocolPayload{
		Protocol: "udp",
		Codecs: []codecDescription{
			{Name: "opus", Type: "audio", Priority: 1000, PayloadType: OpusPayloadType},
			{Name: string(codec), Type: "video", Priority: 1000, PayloadType: codec.PayloadType(), RtxPayloadType: codec.RtxPayloadType()},
		},
		Data: selectProtocolData{Address: address, Port: port, Mode: mode},
	})
}

// Speaking signals the speaking state (2 = soundshare) for the audio SSRC.
func (g *VoiceGateway) Speaking(flags uint32) error {
	g.mu.Lock()
	params := g.params
	g.mu.Unlock()
	if params == nil {
		return fmt.Errorf("SPEAKING before READY")
	}
	if err := g.sendOpcode(opSpeaking, speakingPayload{Delay: 0, Speaking: flags, SSRC: params.AudioSSRC}); err != nil {
		return err
	}
	if g.machine.Current() == stateNegotiated {
		_ = g.machine.Event(context.Background(), "run")
		g.mu.Lock()
		g.wasRunning = true
		g.mu.Unlock()
	}
	return nil
}

// SetVideo advertises the single video layer, or the deactivated form when
// active is false.
func (g *VoiceGateway) SetVideo(active bool, p VideoStreamParams) error {
	g.mu.Lock()
	params := g.params
	g.mu.Unlock()
	if params == nil {
		return fmt.Errorf("VIDEO before READY")
	}

	if !active {
		return g.sendOpcode(opVideo, videoPayload{
			AudioSSRC: params.AudioSSRC,
			VideoSSRC: 0,
			RtxSSRC:   0,
			Streams:   []videoStream{},
		})
	}
	return g.sendOpcode(opVideo, videoPayload{
		AudioSSRC: params.AudioSSRC,
		VideoSSRC: params.VideoSSRC,
		RtxSSRC:   params.RtxSSRC,
		Streams: []videoStream{{
			Type:         "video",
			Rid:          "100",
			SSRC:         params.VideoSSRC,
			Active:       true,
			Quality:      100,
			RtxSSRC:      params.RtxSSRC,
			MaxBitrate:   p.Bitrate,
			MaxFramerate: p.Framerate,
			MaxResolution: videoResolution{
				Type:   "fixed",
				Width:  p.Width,
				Height: p.Height,
			},
		}},
	})
}

// Close tears the connection down; heartbeats stop and no resume happens.
func (g *VoiceGateway) Close() {
	g.stopHeartbeat()
	g.mu.Lock()
	ws := g.ws
	g.ws = nil
	g.mu.Unlock()
	if ws != nil {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}
	_ = g.machine.Event(context.Background(), "close")
}
