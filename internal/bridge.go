package internal

// Application gateway opcodes the bridge emits. The main gateway itself is
// managed elsewhere; the bridge only needs a send surface for these four.
const (
	AppOpVoiceStateUpdate = 4
	AppOpStreamCreate     = 18
	AppOpStreamDelete     = 19
	AppOpStreamSetPaused  = 22
)

// AppGatewaySender is the outbound half of the main application gateway.
type AppGatewaySender interface {
	SendOpcode(op int, d any) error
}

type appVoiceStateUpdate struct {
	GuildID   *string `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
	SelfVideo bool    `json:"self_video"`
}

type appStreamCreate struct {
	Type            string  `json:"type"`
	GuildID         *string `json:"guild_id"`
	ChannelID       string  `json:"channel_id"`
	PreferredRegion *string `json:"preferred_region"`
}

type appStreamSetPaused struct {
	StreamKey string `json:"stream_key"`
	Paused    bool   `json:"paused"`
}

type appStreamDelete struct {
	StreamKey string `json:"stream_key"`
}

// Bridge wires the four inbound application-gateway events into the voice
// and stream gateways, and emits the four outbound opcodes that drive a
// Go-Live session. Callers push events in; no interception mechanism is
// assumed.
type Bridge struct {
	sender AppGatewaySender

	userID    string
	guildID   string
	channelID string

	key *StreamKey

	// voice carries the bot's voice-channel presence; stream carries the
	// Go-Live media session. The stream gateway duplicates the voice
	// session id and gets its own endpoint/token via STREAM_SERVER_UPDATE.
	voice  *VoiceGateway
	stream *VoiceGateway

	sessionID string
}

// NewBridge creates the bridge for one bot user joining one channel.
// guildID is empty for DM calls.
func NewBridge(sender AppGatewaySender, userID, guildID, channelID string) *Bridge {
	key := &StreamKey{Type: StreamKeyGuild, GuildID: guildID, ChannelID: channelID, UserID: userID}
	if guildID == "" {
		key = &StreamKey{Type: StreamKeyCall, ChannelID: channelID, UserID: userID}
	}
	b := &Bridge{
		sender:    sender,
		userID:    userID,
		guildID:   guildID,
		channelID: channelID,
		key:       key,
	}
	b.voice = NewVoiceGateway(key.ServerID(), userID)
	b.stream = NewVoiceGateway(key.ServerID(), userID)
	return b
}

// VoiceGateway returns the voice-presence gateway.
func (b *Bridge) VoiceGateway() *VoiceGateway { return b.voice }

// StreamGateway returns the Go-Live media gateway; this is the one the
// transport pipeline runs against.
func (b *Bridge) StreamGateway() *VoiceGateway { return b.stream }

// StreamKey returns the session's stream key.
func (b *Bridge) StreamKey() *StreamKey { return b.key }

// JoinVoice asks the main gateway to put the bot in the voice channel.
func (b *Bridge) JoinVoice() error {
	guildID := optionalID(b.guildID)
	channelID := b.channelID
	return b.sender.SendOpcode(AppOpVoiceStateUpdate, appVoiceStateUpdate{
		GuildID:   guildID,
		ChannelID: &channelID,
		SelfMute:  false,
		SelfDeaf:  true,
		SelfVideo: false,
	})
}

// LeaveVoice clears the bot's voice state. The all-null payload is the
// wire convention for leaving.
func (b *Bridge) LeaveVoice() error {
	return b.sender.SendOpcode(AppOpVoiceStateUpdate, appVoiceStateUpdate{
		GuildID:   nil,
		ChannelID: nil,
		SelfMute:  false,
		SelfDeaf:  false,
		SelfVideo: false,
	})
}

// CreateStream requests a Go-Live stream for the joined channel.
func (b *Bridge) CreateStream() error {
	return b.sender.SendOpcode(AppOpStreamCreate, appStreamCreate{
		Type:            string(b.key.Type),
		GuildID:         optionalID(b.guildID),
		ChannelID:       b.channelID,
		PreferredRegion: nil,
	})
}

// SetStreamPaused toggles the stream's paused flag.
func (b *Bridge) SetStreamPaused(paused bool) error {
	return b.sender.SendOpcode(AppOpStreamSetPaused, appStreamSetPaused{
		StreamKey: b.key.String(),
		Paused:    paused,
	})
}

// DeleteStream ends the Go-Live stream.
func (b *Bridge) DeleteStream() error {
	return b.sender.SendOpcode(AppOpStreamDelete, appStreamDelete{
		StreamKey: b.key.String(),
	})
}

// HandleVoiceStateUpdate consumes a VOICE_STATE_UPDATE for the bot user.
// The session id goes to the voice gateway at once and is kept for the
// stream gateway, which receives it on STREAM_CREATE.
func (b *Bridge) HandleVoiceStateUpdate(userID, sessionID string) {
	if userID != b.userID {
		return
	}
	b.sessionID = sessionID
	b.voice.SetSession(sessionID)
}

// HandleVoiceServerUpdate consumes a VOICE_SERVER_UPDATE for the guild.
func (b *Bridge) HandleVoiceServerUpdate(guildID, endpoint, token string) {
	if b.guildID != "" && guildID != b.guildID {
		return
	}
	b.voice.SetServer(endpoint, token)
}

// HandleStreamCreate consumes a STREAM_CREATE matching the stream key and
// copies the voice session onto the stream gateway.
func (b *Bridge) HandleStreamCreate(streamKey string) {
	if streamKey != b.key.String() {
		return
	}
	b.stream.SetSession(b.sessionID)
}

// HandleStreamServerUpdate consumes a STREAM_SERVER_UPDATE matching the
// stream key; endpoint and token belong to the stream connection.
func (b *Bridge) HandleStreamServerUpdate(streamKey, endpoint, token string) {
	if streamKey != b.key.String() {
		return
	}
	b.stream.SetServer(endpoint, token)
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
