// Package client implements the Parley websocket client.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/parley/pkg/protocol"
)

const writeWait = 10 * time.Second

// EventHandler is a callback for incoming server events.
type EventHandler func(env *protocol.Envelope)

// Conn is one websocket connection to a Parley server.
type Conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex // serialises writes
	handler EventHandler
	done    chan struct{}
	log     *slog.Logger
}

// Dial connects to the server's websocket endpoint. Browsers always send an
// Origin header, and servers with an origin allow-list expect one.
func Dial(ctx context.Context, url, origin string) (*Conn, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("client: connect %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("client: connect %s: %w", url, err)
	}
	return &Conn{
		ws:   ws,
		done: make(chan struct{}),
		log:  slog.Default(),
	}, nil
}

// SetEventHandler sets the callback for incoming events. Call it before
// StartReceiving.
func (c *Conn) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Send writes one event to the server.
func (c *Conn) Send(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("client: send %s: %w", event, err)
	}
	return nil
}

// Join asks to be matched with a partner.
func (c *Conn) Join(req protocol.JoinQueueRequest) error {
	return c.Send(protocol.EventJoinQueue, req)
}

// Leave withdraws from matchmaking.
func (c *Conn) Leave() error {
	return c.Send(protocol.EventLeaveQueue, nil)
}

// Say sends a chat message into a room.
func (c *Conn) Say(req protocol.SendMessageRequest) error {
	return c.Send(protocol.EventSendMessage, req)
}

// StartReceiving starts a goroutine that reads incoming events and
// dispatches them to the event handler until the connection ends.
func (c *Conn) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			_, frame, err := c.ws.ReadMessage()
			if err != nil {
				if isClosedErr(err) {
					c.log.Debug("connection closed")
					return
				}
				c.log.Error("read error", "err", err)
				return
			}
			env, err := decodeFrame(frame)
			if err != nil {
				c.log.Warn("ignoring malformed frame", "err", err)
				continue
			}
			if c.handler != nil {
				c.handler(env)
			}
		}
	}()
}

// Close says goodbye and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// decodeFrame parses a server frame. Unlike protocol.Decode it accepts
// outbound event names.
func decodeFrame(frame []byte) (*protocol.Envelope, error) {
	env := &protocol.Envelope{}
	if err := json.Unmarshal(frame, env); err != nil {
		return nil, fmt.Errorf("client: unmarshal: %w", err)
	}
	if env.Event == "" {
		return nil, protocol.ErrMissingEvent
	}
	return env, nil
}

func isClosedErr(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
