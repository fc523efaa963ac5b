package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/codebyyassine/StreamBot/internal"
)

func main() {
	internal.SetupUsage()
	pflag.Parse()

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if internal.Endpoint == "" || internal.Token == "" || internal.SessionID == "" {
		return fmt.Errorf("endpoint, token and session-id are required (see --help)")
	}
	if internal.ChannelID == "" || internal.UserID == "" {
		return fmt.Errorf("channel-id and user-id are required (see --help)")
	}

	var input io.Reader = os.Stdin
	if internal.InputPath != "-" {
		f, err := os.Open(internal.InputPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		input = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "Stopping...")
		cancel()
	}()

	serverID := internal.GuildID
	if serverID == "" {
		// DM call: the channel id doubles as the server id.
		serverID = internal.ChannelID
	}

	gw := internal.NewVoiceGateway(serverID, internal.UserID)
	defer gw.Close()
	gw.SetSession(internal.SessionID)
	gw.SetServer(internal.Endpoint, internal.Token)

	fmt.Fprintf(os.Stderr, "Connecting to voice gateway: %s\n", internal.Endpoint)

	err := internal.PlayStream(ctx, input, gw, internal.PlayOptions{
		ForceChaCha: internal.ForceChaCha,
		Bitrate:     internal.Bitrate,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Playout finished")
	return nil
}
