package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gookit/color"

	"github.com/NicolasHaas/parley/pkg/protocol"
)

var (
	styleInfo    = color.New(color.FgYellow)
	stylePartner = color.New(color.FgCyan, color.OpBold)
	styleSelf    = color.New(color.FgGreen)
	styleError   = color.New(color.FgRed, color.OpBold)
)

// Session tracks one user's view of the conversation and turns server
// events into terminal lines. It is safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	roomID  string
	partner *protocol.Partner
}

// RoomID returns the current room, or "" when not paired.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Partner returns the current partner, or nil when not paired.
func (s *Session) Partner() *protocol.Partner {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partner == nil {
		return nil
	}
	p := *s.partner
	return &p
}

// Apply updates the session from env and returns the line to print.
// Events that need no output return "".
func (s *Session) Apply(env *protocol.Envelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Event {
	case protocol.EventQueued:
		var ev protocol.QueuedEvent
		if err := decode(env, &ev); err != nil {
			return "", err
		}
		return styleInfo.Render(fmt.Sprintf("* waiting for a partner (%d of %d in queue)", ev.Position, ev.Size)), nil

	case protocol.EventPaired:
		var ev protocol.PairedEvent
		if err := decode(env, &ev); err != nil {
			return "", err
		}
		s.roomID = ev.RoomID
		s.partner = &ev.Partner
		return styleInfo.Render(fmt.Sprintf("* you are talking to %s (%s)", ev.Partner.Username, ev.Partner.Language)), nil

	case protocol.EventReceiveMessage:
		var ev protocol.ReceiveMessageEvent
		if err := decode(env, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s: %s", clock(ev.Timestamp), stylePartner.Render(ev.SenderDisplay), ev.Text), nil

	case protocol.EventReceiveTranslation:
		var ev protocol.ReceiveTranslationEvent
		if err := decode(env, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s [%s>%s]: %s", clock(ev.Timestamp), stylePartner.Render(ev.SenderDisplay),
			ev.FromLang, ev.ToLang, ev.TranslatedText), nil

	case protocol.EventOwnTranslatedMessage:
		var ev protocol.OwnTranslatedMessageEvent
		if err := decode(env, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s [%s]: %s", clock(ev.Timestamp), styleSelf.Render("you"), ev.ToLang, ev.TranslatedText), nil

	case protocol.EventPartnerDisconnected:
		s.roomID = ""
		s.partner = nil
		return styleInfo.Render("* your partner left. /join to meet someone new"), nil

	case protocol.EventError:
		var ev protocol.ErrorEvent
		if err := decode(env, &ev); err != nil {
			return "", err
		}
		return styleError.Render(fmt.Sprintf("! %s (code %d)", ev.Message, ev.Code)), nil
	}
	return "", nil
}

func decode(env *protocol.Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("client: decode %s: %w", env.Event, err)
	}
	return nil
}

// clock renders a server timestamp as local HH:MM.
func clock(ts string) string {
	t, err := time.Parse(protocol.TimestampLayout, ts)
	if err != nil {
		return "--:--"
	}
	return t.Local().Format("15:04")
}
