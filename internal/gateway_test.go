package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

type receivedOp struct {
	Op int
	D  json.RawMessage
}

// scriptedVoiceServer runs one handler per client connection, in order.
func scriptedVoiceServer(t *testing.T, handlers ...func(*websocket.Conn)) string {
	t.Helper()
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "8", r.URL.Query().Get("v"))
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns < len(handlers) {
			handlers[conns](ws)
		}
		conns++
		ws.Close()
	}))
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func sendJSON(ws *websocket.Conn, raw string) {
	ws.WriteMessage(websocket.TextMessage, []byte(raw))
}

func readOp(t *testing.T, ws *websocket.Conn) receivedOp {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg receivedOp
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestGatewayHandshake(t *testing.T) {
	endpoint := scriptedVoiceServer(t, func(ws *websocket.Conn) {
		sendJSON(ws, `{"op":8,"d":{"heartbeat_interval":60000}}`)

		identify := readOp(t, ws)
		require.Equal(t, opIdentify, identify.Op)
		var p identifyPayload
		require.NoError(t, json.Unmarshal(identify.D, &p))
		assert.Equal(t, "guild1", p.ServerID)
		assert.Equal(t, "user1", p.UserID)
		assert.Equal(t, "sess1", p.SessionID)
		assert.Equal(t, "tok1", p.Token)
		assert.True(t, p.Video)
		require.Len(t, p.Streams, 1)
		assert.Equal(t, "screen", p.Streams[0].Type)
		assert.Equal(t, "100", p.Streams[0].Rid)

		sendJSON(ws, `{"op":2,"seq":1,"d":{"ssrc":111,"ip":"10.0.0.1","port":4000,`+
			`"modes":["aead_aes256_gcm_rtpsize","aead_xchacha20_poly1305_rtpsize"],`+
			`"streams":[{"type":"video","ssrc":222,"rtx_ssrc":333}]}}`)

		// Hold the socket open until the test finishes.
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		ws.ReadMessage()
	})

	gw := NewVoiceGateway("guild1", "user1")
	defer gw.Close()
	gw.SetSession("sess1")
	gw.SetServer(endpoint, "tok1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	params, err := gw.WaitReady(ctx)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", params.Address)
	assert.Equal(t, uint16(4000), params.Port)
	assert.Equal(t, uint32(111), params.AudioSSRC)
	assert.Equal(t, uint32(222), params.VideoSSRC)
	assert.Equal(t, uint32(333), params.RtxSSRC)
	assert.Contains(t, params.SupportedModes, ModeAES256GCM)
	assert.Equal(t, stateReady, gw.State())
}

func TestGatewayProtocolAckAndResume(t *testing.T) {
	keyInts := make([]string, 32)
	for i := range keyInts {
		keyInts[i] = "7"
	}
	ackJSON := `{"op":4,"d":{"secret_key":[` + strings.Join(keyInts, ",") + `],"mode":"aead_aes256_gcm_rtpsize"}}`

	resumed := make(chan resumePayload, 1)

	endpoint := scriptedVoiceServer(t,
		func(ws *websocket.Conn) {
			sendJSON(ws, `{"op":8,"d":{"heartbeat_interval":60000}}`)
			readOp(t, ws) // IDENTIFY
			sendJSON(ws, `{"op":2,"seq":3,"d":{"ssrc":111,"ip":"10.0.0.1","port":4000,`+
				`"modes":["aead_aes256_gcm_rtpsize"],"streams":[{"type":"video","ssrc":222,"rtx_ssrc":333}]}}`)
			sendJSON(ws, ackJSON)

			// Wait for SPEAKING, then die with a resumable close code.
			speaking := readOp(t, ws)
			assert.Equal(t, opSpeaking, speaking.Op)
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4015, "server crash"))
			ws.Close()
		},
		func(ws *websocket.Conn) {
			sendJSON(ws, `{"op":8,"d":{"heartbeat_interval":60000}}`)

			resume := readOp(t, ws)
			require.Equal(t, opResume, resume.Op)
			var p resumePayload
			require.NoError(t, json.Unmarshal(resume.D, &p))
			resumed <- p

			sendJSON(ws, `{"op":9,"d":null}`)
			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			ws.ReadMessage()
		},
	)

	gw := NewVoiceGateway("guild1", "user1")
	defer gw.Close()
	gw.SetSession("sess1")
	gw.SetServer(endpoint, "tok1")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := gw.WaitReady(ctx)
	require.NoError(t, err)
	key, mode, err := gw.WaitProtocolAck(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeAES256GCM, mode)
	require.Len(t, key, 32)
	assert.Equal(t, byte(7), key[0])

	// Speaking moves the machine to RUNNING and arms the resume path.
	require.NoError(t, gw.Speaking(SpeakingSoundshare))

	select {
	case p := <-resumed:
		assert.Equal(t, "guild1", p.ServerID)
		assert.Equal(t, "sess1", p.SessionID)
		assert.Equal(t, "tok1", p.Token)
		assert.Equal(t, int64(3), p.SeqAck)
	case <-ctx.Done():
		t.Fatal("no RESUME observed after close 4015")
	}

	// RESUMED returns the session to RUNNING without a second READY.
	require.Eventually(t, func() bool { return gw.State() == stateRunning },
		2*time.Second, 10*time.Millisecond)
	assert.NoError(t, gw.Err())
}

func TestGatewayURL(t *testing.T) {
	g := NewVoiceGateway("s", "u")
	g.endpoint = "voice.example.gg:443"
	assert.Equal(t, "wss://voice.example.gg/?v=8", g.gatewayURL())

	g.endpoint = "voice.example.gg:80"
	assert.Equal(t, "wss://voice.example.gg/?v=8", g.gatewayURL())

	g.endpoint = "ws://127.0.0.1:9999"
	assert.Equal(t, "ws://127.0.0.1:9999/?v=8", g.gatewayURL())
}

func TestResumableCloseCode(t *testing.T) {
	assert.True(t, resumableCloseCode(4015))
	assert.True(t, resumableCloseCode(1006))
	assert.True(t, resumableCloseCode(1000))
	assert.False(t, resumableCloseCode(4004))
	assert.False(t, resumableCloseCode(4006))
}

func TestSelectModeRuleViaGateway(t *testing.T) {
	assert.Equal(t, ModeAES256GCM, SelectMode([]string{ModeAES256GCM, ModeXChaCha20Poly1305}, false))
	assert.Equal(t, ModeXChaCha20Poly1305, SelectMode([]string{ModeAES256GCM}, true))
}
