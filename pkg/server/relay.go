package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/translate"
)

// relayedMessage is one chat line on its way through translation.
type relayedMessage struct {
	room      model.RoomID
	sender    model.ConnID
	recipient model.ConnID
	display   string
	text      string
	from      string
	to        string
	at        time.Time
}

// SendMessage relays text from conn to its partner in the named room.
//
// The partner gets the raw text right away. When the two declared languages
// differ, two translation tasks start afterwards: one for the partner
// (receive-translation) and one echoing the result back to the sender
// (own-translated-message). Unknown rooms and senders that are not an
// occupant are dropped without telling anyone.
func (c *Coordinator) SendMessage(conn model.ConnID, req protocol.SendMessageRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms.Lookup(model.RoomID(req.RoomID))
	if !ok || !room.Has(conn) {
		c.metrics.MessagesDropped.Add(1)
		c.log.Debug("message dropped", "conn", conn, "room", req.RoomID, "room_found", ok)
		return
	}

	sender, _ := room.Occupant(conn)
	partner, _ := room.Partner(conn)
	from, _ := room.LanguageOf(conn)
	to, _ := room.LanguageOf(partner.Conn)

	display := strings.TrimSpace(req.SenderDisplay)
	if display == "" {
		display = sender.Username
	}
	msg := relayedMessage{
		room:      room.ID,
		sender:    conn,
		recipient: partner.Conn,
		display:   display,
		text:      req.Text,
		from:      from,
		to:        to,
		at:        c.now(),
	}

	if c.emitLocked(partner.Conn, protocol.EventReceiveMessage, protocol.ReceiveMessageEvent{
		Text:          msg.text,
		SenderDisplay: msg.display,
		Timestamp:     protocol.Timestamp(msg.at),
		IsOwn:         false,
	}) {
		c.metrics.MessagesRelayed.Add(1)
	}

	if model.SameLanguage(from, to) || c.translator == nil || c.closed {
		return
	}
	c.inflight.Add(1)
	c.translating.Add(1)
	go c.translateMessage(msg)
}

// translateMessage runs both translation tasks for msg.
// Neither waits on the other; results are delivered in completion order.
func (c *Coordinator) translateMessage(msg relayedMessage) {
	defer c.inflight.Done()
	defer c.translating.Add(-1)

	if c.skipDetected && translate.AlreadyIn(msg.text, msg.to) {
		c.metrics.TranslationsSkipped.Add(1)
		c.log.Debug("translation skipped, text already in target language", "room", msg.room, "to", msg.to)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.deliverTranslation(msg, msg.recipient, func(translated string) (string, any) {
			return protocol.EventReceiveTranslation, protocol.ReceiveTranslationEvent{
				OriginalText:   msg.text,
				TranslatedText: translated,
				FromLang:       msg.from,
				ToLang:         msg.to,
				SenderDisplay:  msg.display,
				Timestamp:      protocol.Timestamp(msg.at),
			}
		})
	}()
	go func() {
		defer wg.Done()
		c.deliverTranslation(msg, msg.sender, func(translated string) (string, any) {
			return protocol.EventOwnTranslatedMessage, protocol.OwnTranslatedMessageEvent{
				OriginalText:   msg.text,
				TranslatedText: translated,
				ToLang:         msg.to,
				Timestamp:      protocol.Timestamp(msg.at),
			}
		})
	}()
	wg.Wait()
}

// deliverTranslation translates msg and hands the result to recipient if
// the room still exists with recipient in it. A failed translation is
// logged and nothing is sent.
func (c *Coordinator) deliverTranslation(msg relayedMessage, recipient model.ConnID, build func(translated string) (string, any)) {
	translated, err := c.callTranslator(msg)
	if err != nil {
		c.metrics.TranslationsFailed.Add(1)
		c.log.Warn("translation withheld", "room", msg.room, "recipient", recipient,
			"from", msg.from, "to", msg.to, "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms.Lookup(msg.room)
	if !ok || !room.Has(recipient) {
		c.metrics.TranslationsDiscarded.Add(1)
		c.log.Debug("translation discarded, room gone", "room", msg.room, "recipient", recipient)
		return
	}
	event, payload := build(translated)
	if c.emitLocked(recipient, event, payload) {
		c.metrics.TranslationsDelivered.Add(1)
	}
}

// callTranslator turns a translator panic into an error so one bad call
// cannot take the process down.
func (c *Coordinator) callTranslator(msg relayedMessage) (translated string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", translate.ErrGatewayFailure, r)
		}
	}()
	return c.translator.Translate(c.ctx, msg.text, msg.from, msg.to)
}
