package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NicolasHaas/parley/pkg/client"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/version"
)

const help = `commands:
  /join    find a partner
  /leave   stop waiting
  /quit    exit
anything else is sent to your partner`

func main() {
	settingsPath := flag.String("settings", client.DefaultSettingsPath(), "Settings YAML file")
	serverURL := flag.String("server", "", "Server websocket URL (ws://host:3002/ws)")
	origin := flag.String("origin", "", "Origin header sent on connect")
	name := flag.String("name", "", "Your username")
	lang := flag.String("lang", "", "Your language code (en, es, pt-BR ...)")
	display := flag.String("display", "", "Name shown next to your messages")
	save := flag.Bool("save", false, "Write the effective settings back to the settings file")
	status := flag.Bool("status", false, "Print server status and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Default to "warn" so log lines don't interleave with the chat; override
	// with PARLEY_LOG_LEVEL (debug, info, warn, error).
	level := "warn"
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		level = v
	}
	_ = logging.Setup(logging.Options{Level: level, Format: "text", Output: os.Stderr})

	settings, err := client.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			settings.ServerURL = *serverURL
		case "origin":
			settings.Origin = *origin
		case "name":
			settings.Username = *name
		case "lang":
			settings.Language = *lang
		case "display":
			settings.DisplayName = *display
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *status {
		h, err := client.FetchHealth(ctx, nil, settings.ServerURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		client.RenderHealth(os.Stdout, h)
		return
	}

	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(1)
	}
	if *save {
		if err := settings.Save(*settingsPath); err != nil {
			slog.Warn("save settings", "path", *settingsPath, "err", err)
		}
	}

	if err := run(ctx, settings); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *client.Settings) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, settings.ServerURL, settings.Origin)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	var session client.Session
	conn.SetEventHandler(func(env *protocol.Envelope) {
		line, err := session.Apply(env)
		if err != nil {
			slog.Warn("bad event", "event", env.Event, "err", err)
			return
		}
		if line != "" {
			fmt.Println(line)
		}
	})
	conn.StartReceiving()

	fmt.Println(help)
	if err := conn.Join(settings.JoinRequest()); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return fmt.Errorf("connection to %s lost", settings.ServerURL)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(conn, &session, settings, strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(conn *client.Conn, session *client.Session, settings *client.Settings, line string) error {
	switch line {
	case "":
		return nil
	case "/quit":
		return errQuit
	case "/join":
		return conn.Join(settings.JoinRequest())
	case "/leave":
		return conn.Leave()
	case "/help":
		fmt.Println(help)
		return nil
	}
	roomID := session.RoomID()
	if roomID == "" {
		fmt.Println("* not connected to a partner yet")
		return nil
	}
	return conn.Say(protocol.SendMessageRequest{
		RoomID:        roomID,
		Text:          line,
		SenderDisplay: settings.Display(),
	})
}
