package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second    // time allowed to write one frame
	pongWait   = 60 * time.Second    // time allowed between pongs
	pingPeriod = (pongWait * 9) / 10 // must be less than pongWait
)

// wsClient is one websocket connection. The read side runs on the HTTP
// handler goroutine, the write side on its own goroutine fed by send.
type wsClient struct {
	id   model.ConnID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

var _ Client = (*wsClient)(nil)

func newWSClient(conn *websocket.Conn, buffer int, log *slog.Logger) *wsClient {
	id := model.NewConnID()
	return &wsClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  log.With("conn", id),
	}
}

func (c *wsClient) ID() model.ConnID { return c.id }

// Send queues frame for the write pump. A client whose buffer is full is
// too slow to keep up and gets closed.
func (c *wsClient) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send buffer full, dropping client", "buffered", len(c.send))
		c.close()
		return false
	}
}

func (c *wsClient) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// close stops the write pump, which flushes what is buffered and closes
// the socket. Safe to call more than once.
func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.log.Debug("write failed", "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("ping failed", "err", err)
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsClient) write(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// flush writes whatever is still buffered, giving up on the first error.
func (c *wsClient) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if s.cfg.OriginAllowed(origin) {
		return true
	}
	s.metrics.RejectedOrigins.Add(1)
	s.log.Warn("rejected websocket origin", "origin", origin, "remote", r.RemoteAddr)
	return false
}

// track registers a websocket handler unless the server is shutting down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns.Add(1)
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newWSClient(conn, s.cfg.SendBuffer, s.log)
	if err := s.coord.Connect(c); err != nil {
		s.log.Warn("rejecting connection", "remote", r.RemoteAddr, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	c.log.Info("client connected", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	s.readPump(c)

	s.coord.Disconnect(c.id)
	c.close()
	<-writerDone
	c.log.Info("client disconnected")
}

func (s *Server) readPump(c *wsClient) {
	c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			s.coord.SendError(c.id, protocol.CodeMalformed, "only text frames are accepted")
			continue
		}
		s.dispatch(c.id, frame)
	}
}

// dispatch decodes one inbound frame and hands it to the coordinator.
// Anything the client got wrong is answered with an error event; the
// connection stays open.
func (s *Server) dispatch(conn model.ConnID, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		s.coord.SendError(conn, errorCode(err), err.Error())
		return
	}

	switch env.Event {
	case protocol.EventJoinQueue:
		req, err := protocol.DecodeData[protocol.JoinQueueRequest](env)
		if err == nil {
			err = s.coord.JoinQueue(conn, req)
		}
		if err != nil {
			s.coord.SendError(conn, errorCode(err), err.Error())
		}
	case protocol.EventLeaveQueue:
		if err := s.coord.LeaveQueue(conn); err != nil {
			s.coord.SendError(conn, errorCode(err), err.Error())
		}
	case protocol.EventSendMessage:
		req, err := protocol.DecodeData[protocol.SendMessageRequest](env)
		if err != nil {
			s.coord.SendError(conn, errorCode(err), err.Error())
			return
		}
		s.coord.SendMessage(conn, req)
	}
}

// errorCode maps an error to the code reported in an error event.
func errorCode(err error) int32 {
	var verr *protocol.ValidationError
	switch {
	case errors.Is(err, protocol.ErrUnknownEvent):
		return protocol.CodeUnknownEvent
	case errors.As(err, &verr),
		errors.Is(err, protocol.ErrMissingData),
		errors.Is(err, model.ErrIdentityEmpty),
		errors.Is(err, model.ErrIdentityTooLong),
		errors.Is(err, model.ErrIdentityInvalidChars),
		errors.Is(err, model.ErrLanguageInvalid):
		return protocol.CodeInvalid
	case errors.Is(err, ErrAlreadyPaired),
		errors.Is(err, ErrNotQueued),
		errors.Is(err, ErrCoordinatorClosed),
		errors.Is(err, ErrUnknownConnection):
		return protocol.CodeRejected
	case errors.Is(err, protocol.ErrMessageTooLarge),
		errors.Is(err, protocol.ErrMissingEvent):
		return protocol.CodeMalformed
	}
	var synErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &synErr) || errors.As(err, &typeErr) {
		return protocol.CodeMalformed
	}
	return protocol.CodeInternal
}
