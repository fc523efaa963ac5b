package internal

import (
	"fmt"
	"strings"
)

// StreamKeyType distinguishes guild streams from DM call streams.
type StreamKeyType string

const (
	StreamKeyGuild StreamKeyType = "guild"
	StreamKeyCall  StreamKeyType = "call"
)

// StreamKey identifies one Go-Live broadcast session.
//
// Grammar: guild:<guildId>:<channelId>:<userId> | call:<channelId>:<userId>
type StreamKey struct {
	Type      StreamKeyType
	GuildID   string
	ChannelID string
	UserID    string
}

// ParseStreamKey parses the wire form, failing with ErrInvalidStreamKey on
// malformed input.
func ParseStreamKey(s string) (*StreamKey, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 4 && parts[0] == string(StreamKeyGuild):
		if parts[1] == "" || parts[2] == "" || parts[3] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStreamKey, s)
		}
		return &StreamKey{Type: StreamKeyGuild, GuildID: parts[1], ChannelID: parts[2], UserID: parts[3]}, nil
	case len(parts) == 3 && parts[0] == string(StreamKeyCall):
		if parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStreamKey, s)
		}
		return &StreamKey{Type: StreamKeyCall, ChannelID: parts[1], UserID: parts[2]}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStreamKey, s)
}

// String renders the wire form.
func (k *StreamKey) String() string {
	if k.Type == StreamKeyGuild {
		return fmt.Sprintf("guild:%s:%s:%s", k.GuildID, k.ChannelID, k.UserID)
	}
	return fmt.Sprintf("call:%s:%s", k.ChannelID, k.UserID)
}

// ServerID returns the id the voice gateway identifies against: the guild
// id, or the channel id for DM calls.
func (k *StreamKey) ServerID() string {
	if k.Type == StreamKeyGuild {
		return k.GuildID
	}
	return k.ChannelID
}
