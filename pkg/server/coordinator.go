package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/translate"
)

var (
	ErrCoordinatorClosed   = errors.New("server: coordinator closed")
	ErrDuplicateConnection = errors.New("server: connection already registered")
	ErrUnknownConnection   = errors.New("server: unknown connection")
	ErrAlreadyPaired       = errors.New("server: connection is already in a room")
	ErrNotQueued           = errors.New("server: connection is not queued")
)

// roomIDAttempts bounds how often a colliding room id is regenerated.
const roomIDAttempts = 3

// Client is the coordinator's view of a live connection.
// The transport owns the connection; the coordinator only pushes frames at it.
type Client interface {
	ID() model.ConnID
	// Send queues frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
	// Closed reports whether the connection has been torn down.
	Closed() bool
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Translator   translate.Translator // nil disables translation
	PairingDelay time.Duration        // DefaultPairingDelay when zero
	SkipDetected bool                 // skip translating text already in the target language
	Metrics      *Metrics
	Logger       *slog.Logger
	AfterFunc    AfterFunc
	Now          func() time.Time
}

// CoordinatorStats is a point-in-time view of matchmaking state.
type CoordinatorStats struct {
	Connections    int   `json:"connections"`
	Queued         int   `json:"queued"`
	Rooms          int   `json:"rooms"`
	PairingPending bool  `json:"pairing_pending"`
	Translating    int64 `json:"translating"`
}

// Coordinator owns the waiting queue, the room registry and every
// connection's session state. One mutex serialises all of it; the only
// work done outside the lock is translation.
type Coordinator struct {
	mu      sync.Mutex
	clients map[model.ConnID]Client
	states  map[model.ConnID]model.SessionState
	queue   *WaitingQueue
	rooms   *RoomRegistry
	sched   *PairingScheduler
	closed  bool

	translator   translate.Translator
	skipDetected bool
	metrics      *Metrics
	log          *slog.Logger
	now          func() time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	inflight    sync.WaitGroup
	translating atomic.Int64
}

// NewCoordinator creates a Coordinator ready to accept connections.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	delay := opts.PairingDelay
	if delay <= 0 {
		delay = DefaultPairingDelay
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		clients:      make(map[model.ConnID]Client),
		states:       make(map[model.ConnID]model.SessionState),
		queue:        NewWaitingQueue(),
		rooms:        NewRoomRegistry(),
		translator:   opts.Translator,
		skipDetected: opts.SkipDetected,
		metrics:      metrics,
		log:          log.With(logging.Component("coordinator")),
		now:          now,
		ctx:          ctx,
		cancel:       cancel,
	}
	c.sched = NewPairingScheduler(delay, opts.AfterFunc, c.pairingDue)
	return c
}

// Connect registers a new connection in the idle state.
func (c *Coordinator) Connect(cl Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	id := cl.ID()
	if _, ok := c.clients[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}
	c.clients[id] = cl
	c.states[id] = model.StateIdle
	c.metrics.TotalConnections.Add(1)
	c.metrics.ActiveConnections.Add(1)
	c.log.Debug("client connected", "conn", id)
	return nil
}

// JoinQueue puts conn into matchmaking under the requested identity.
//
// A connection already queued under another identity loses that entry
// first. If the identity is queued from a different connection, the entry
// is taken over in place and the previous connection falls back to idle.
func (c *Coordinator) JoinQueue(conn model.ConnID, req protocol.JoinQueueRequest) error {
	name := strings.TrimSpace(req.Username)
	if err := model.ValidateIdentity(name); err != nil {
		return fmt.Errorf("server: join queue: %w", err)
	}
	lang := strings.TrimSpace(req.Language)
	if err := model.ValidateLanguage(lang); err != nil {
		return fmt.Errorf("server: join queue: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	if _, ok := c.clients[conn]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	if !c.states[conn].CanJoinQueue() {
		return ErrAlreadyPaired
	}

	if current, ok := c.queue.ByHandle(conn); ok && current.Username != name {
		c.queue.RemoveByHandle(conn)
	}
	if prev, ok := c.queue.ByIdentity(name); ok && prev.Conn != conn {
		if _, live := c.clients[prev.Conn]; live {
			c.states[prev.Conn] = model.StateIdle
		}
		c.log.Debug("identity taken over by another connection", "username", name, "old", prev.Conn, "new", conn)
	}

	length, replaced := c.queue.Enqueue(model.UserProfile{
		Username:   name,
		Language:   lang,
		Attributes: lo.Assign(req.Attributes),
		Conn:       conn,
		JoinedAt:   c.now(),
	})
	c.states[conn] = model.StateQueued
	c.metrics.QueueJoins.Add(1)
	c.log.Info("joined queue", "conn", conn, "username", name, "language", lang, "replaced", replaced, "queue", length)

	c.emitLocked(conn, protocol.EventQueued, protocol.QueuedEvent{
		Position: c.queue.Position(conn),
		Size:     length,
	})
	if length >= 2 {
		c.sched.Schedule()
	} else {
		c.sched.Cancel()
	}
	return nil
}

// LeaveQueue takes conn out of matchmaking without disconnecting it.
func (c *Coordinator) LeaveQueue(conn model.ConnID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.queue.RemoveByHandle(conn) {
		return ErrNotQueued
	}
	c.states[conn] = model.StateIdle
	c.metrics.QueueLeaves.Add(1)
	c.cancelIfShortLocked()
	c.log.Info("left queue", "conn", conn, "queue", c.queue.Len())
	return nil
}

// Disconnect forgets conn: it leaves the queue, its room is destroyed and
// the remaining occupant is told exactly once. Unknown handles are ignored.
func (c *Coordinator) Disconnect(conn model.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.clients[conn]; !ok {
		return
	}
	delete(c.clients, conn)
	delete(c.states, conn)
	c.metrics.ActiveConnections.Add(-1)
	c.metrics.TotalDisconnects.Add(1)

	if c.queue.RemoveByHandle(conn) {
		c.cancelIfShortLocked()
	}
	if id, ok := c.rooms.FindRoomOf(conn); ok {
		c.teardownLocked(id, conn)
	}
	c.log.Debug("client disconnected", "conn", conn)
}

// StateOf returns conn's session state.
func (c *Coordinator) StateOf(conn model.ConnID) (model.SessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[conn]
	return st, ok
}

// RoomOf returns the room conn occupies.
func (c *Coordinator) RoomOf(conn model.ConnID) (model.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.FindRoomOf(conn)
}

// Stats returns a snapshot of matchmaking state.
func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CoordinatorStats{
		Connections:    len(c.clients),
		Queued:         c.queue.Len(),
		Rooms:          c.rooms.Len(),
		PairingPending: c.sched.Pending(),
		Translating:    c.translating.Load(),
	}
}

// Clients returns the registered connections.
func (c *Coordinator) Clients() []Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Values(c.clients)
}

// Wait blocks until every in-flight translation has been delivered or dropped.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Close stops pairing and new translations, then waits for in-flight
// translations. If ctx expires first their context is cancelled.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.sched.Cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return fmt.Errorf("server: close coordinator: %w", ctx.Err())
	}
}

// pairingDue runs on the scheduler's timer goroutine.
func (c *Coordinator) pairingDue(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sched.Claim(gen) || c.closed {
		return
	}
	c.drainLocked()
}

// drainLocked pairs waiting users two at a time, oldest first.
func (c *Coordinator) drainLocked() {
	for c.queue.Len() >= 2 {
		a, b, _ := c.queue.DequeueTwo()
		if !c.liveLocked(a.Conn) || !c.liveLocked(b.Conn) {
			c.abortPairLocked(a, b, "connection gone")
			continue
		}
		if err := c.openRoomLocked(a, b); err != nil {
			c.log.Error("failed to open room", "a", a.Conn, "b", b.Conn, "err", err)
			c.abortPairLocked(a, b, "room setup failed")
			for _, p := range []model.UserProfile{a, b} {
				c.sendErrorLocked(p.Conn, protocol.CodeInternal, "pairing failed, please join again")
			}
		}
	}
}

// abortPairLocked drops a dequeued pair. Survivors are left idle and must
// send join-queue again to be matched.
func (c *Coordinator) abortPairLocked(a, b model.UserProfile, reason string) {
	c.metrics.PairingsAborted.Add(1)
	for _, p := range []model.UserProfile{a, b} {
		if _, ok := c.clients[p.Conn]; ok {
			c.states[p.Conn] = model.StateIdle
		}
	}
	c.log.Warn("pairing aborted", "reason", reason,
		"a", a.Conn, "a_live", c.liveLocked(a.Conn),
		"b", b.Conn, "b_live", c.liveLocked(b.Conn))
}

func (c *Coordinator) openRoomLocked(a, b model.UserProfile) error {
	now := c.now()
	id, err := c.newRoomIDLocked(now)
	if err != nil {
		return err
	}
	room, err := model.NewRoom(id, a, b, now)
	if err != nil {
		return fmt.Errorf("server: new room: %w", err)
	}
	if err := c.rooms.Create(room); err != nil {
		return err
	}
	c.metrics.RoomsCreated.Add(1)

	for _, p := range room.Occupants {
		c.states[p.Conn] = model.StatePaired
		partner, _ := room.Partner(p.Conn)
		pub := partner.Public()
		c.emitLocked(p.Conn, protocol.EventPaired, protocol.PairedEvent{
			RoomID: string(room.ID),
			Partner: protocol.Partner{
				Username:   pub.Username,
				Language:   pub.Language,
				Attributes: pub.Attributes,
			},
		})
	}
	c.log.Info("room created", "room", room.ID,
		"a", a.Username, "a_lang", a.Language,
		"b", b.Username, "b_lang", b.Language)
	return nil
}

func (c *Coordinator) newRoomIDLocked(now time.Time) (model.RoomID, error) {
	for range roomIDAttempts {
		id, err := model.NewRoomID(now)
		if err != nil {
			return "", err
		}
		if !c.rooms.Known(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no fresh id after %d attempts", ErrRoomExists, roomIDAttempts)
}

// teardownLocked destroys the room and notifies whoever is left in it.
func (c *Coordinator) teardownLocked(id model.RoomID, leaver model.ConnID) {
	room, ok := c.rooms.Destroy(id)
	if !ok {
		return
	}
	c.metrics.RoomsDestroyed.Add(1)
	partner, _ := room.Partner(leaver)
	if _, live := c.clients[partner.Conn]; live {
		c.states[partner.Conn] = model.StateClosed
		c.emitLocked(partner.Conn, protocol.EventPartnerDisconnected, nil)
	}
	c.log.Info("room destroyed", "room", id, "left", leaver, "remaining", partner.Conn)
}

func (c *Coordinator) cancelIfShortLocked() {
	if c.queue.Len() < 2 {
		c.sched.Cancel()
	}
}

func (c *Coordinator) liveLocked(conn model.ConnID) bool {
	cl, ok := c.clients[conn]
	return ok && !cl.Closed()
}

// emitLocked encodes and queues one event for conn.
func (c *Coordinator) emitLocked(conn model.ConnID, event string, payload any) bool {
	cl, ok := c.clients[conn]
	if !ok {
		return false
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		c.log.Error("failed to encode event", "event", event, "err", err)
		return false
	}
	if !cl.Send(frame) {
		c.metrics.FramesDropped.Add(1)
		c.log.Debug("client did not accept frame", "conn", conn, "event", event)
		return false
	}
	return true
}

func (c *Coordinator) sendErrorLocked(conn model.ConnID, code int32, msg string) {
	if c.emitLocked(conn, protocol.EventError, protocol.ErrorEvent{Code: code, Message: msg}) {
		c.metrics.ProtocolErrors.Add(1)
	}
}

// SendError delivers an error event to conn.
func (c *Coordinator) SendError(conn model.ConnID, code int32, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErrorLocked(conn, code, msg)
}
