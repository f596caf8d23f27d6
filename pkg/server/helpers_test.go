package server

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
)

// manualTimers is an AfterFunc whose timers only fire when the test says so.
type manualTimers struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{delay: d, f: f}
	m.pending = append(m.pending, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

// Armed counts timers that are neither stopped nor fired.
func (m *manualTimers) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireAll runs every armed timer and returns how many ran.
func (m *manualTimers) FireAll() int {
	m.mu.Lock()
	var due []func()
	for _, t := range m.pending {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t.f)
		}
	}
	m.pending = nil
	m.mu.Unlock()

	for _, f := range due {
		f()
	}
	return len(due)
}

// FireStale runs the callback of the i-th timer even if it was stopped,
// imitating a timer that fired while Stop was racing it.
func (m *manualTimers) FireStale(i int) {
	m.mu.Lock()
	f := m.pending[i].f
	m.mu.Unlock()
	f()
}

// fakeClient records every frame the coordinator sends.
type fakeClient struct {
	id model.ConnID

	mu     sync.Mutex
	frames []protocol.Envelope
	closed bool
	full   bool
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: model.ConnID(id)}
}

func (c *fakeClient) ID() model.ConnID { return c.id }

func (c *fakeClient) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic(err)
	}
	c.frames = append(c.frames, env)
	return true
}

func (c *fakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Event)
	}
	return out
}

// only returns the frames carrying event.
func (c *fakeClient) only(event string) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// decodeAs unmarshals the data of a recorded envelope.
func decodeAs[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
