package internal

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

var (
	InputPath   string
	Endpoint    string
	Token       string
	SessionID   string
	GuildID     string
	ChannelID   string
	UserID      string
	DebugMode   bool
	ForceChaCha bool
	Bitrate     int
)

func init() {
	pflag.StringVarP(&InputPath, "input", "i", "-", "MKV input path ('-' reads from stdin, e.g. an ffmpeg pipe)")
	pflag.StringVarP(&Endpoint, "endpoint", "e", "", "Voice server endpoint (from VOICE_SERVER_UPDATE / STREAM_SERVER_UPDATE)")
	pflag.StringVarP(&Token, "token", "t", "", "Voice server token")
	pflag.StringVarP(&SessionID, "session-id", "s", "", "Voice session id (from VOICE_STATE_UPDATE)")
	pflag.StringVarP(&GuildID, "guild-id", "g", "", "Guild id (empty for DM calls)")
	pflag.StringVarP(&ChannelID, "channel-id", "c", "", "Voice channel id")
	pflag.StringVarP(&UserID, "user-id", "u", "", "Bot user id")
	pflag.BoolVarP(&DebugMode, "debug", "d", false, "Enable debug logging")
	pflag.BoolVar(&ForceChaCha, "chacha", false, "Force XChaCha20-Poly1305 even when the server offers AES-256-GCM")
	pflag.IntVarP(&Bitrate, "bitrate", "b", 0, "Advertised max video bitrate in bits/s (0 = default)")
}

func SetupUsage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "StreamBot - Broadcast an MKV stream as a Go-Live session\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  ffmpeg -i input.mp4 -c:v libx264 -c:a libopus -f matroska - | \\\n")
		fmt.Fprintf(os.Stderr, "    %s -e voice.example.gg -t <token> -s <session> -g <guild> -c <channel> -u <user>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		pflag.PrintDefaults()
	}
}
