package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/translate"
)

const testOrigin = "http://localhost:3000"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PairingDelay = 10 * time.Millisecond

	tr := translate.Func(func(_ context.Context, text, _, to string) (string, error) {
		return "[" + to + "] " + text, nil
	})
	srv := New(cfg, Dependencies{
		Translator: tr,
		Cache:      datastore.NewMemory(16),
		Logger:     logging.Discard(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	header := http.Header{"Origin": []string{testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func expectEvent(t *testing.T, conn *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	env := readEvent(t, conn)
	require.Equal(t, event, env.Event, "data: %s", env.Data)
	return env
}

func TestWebsocketConversation(t *testing.T) {
	req := require.New(t)
	_, ts := newTestServer(t)
	a, b := dial(t, ts), dial(t, ts)

	sendEvent(t, a, protocol.EventJoinQueue, protocol.JoinQueueRequest{Username: "ana", Language: "en"})
	expectEvent(t, a, protocol.EventQueued)
	sendEvent(t, b, protocol.EventJoinQueue, protocol.JoinQueueRequest{Username: "bo", Language: "es"})
	expectEvent(t, b, protocol.EventQueued)

	pa := decodeAs[protocol.PairedEvent](t, expectEvent(t, a, protocol.EventPaired))
	pb := decodeAs[protocol.PairedEvent](t, expectEvent(t, b, protocol.EventPaired))
	req.Equal(pa.RoomID, pb.RoomID)
	req.Equal("bo", pa.Partner.Username)
	req.Equal("ana", pb.Partner.Username)

	sendEvent(t, a, protocol.EventSendMessage, protocol.SendMessageRequest{RoomID: pa.RoomID, Text: "hello", SenderDisplay: "Ana"})

	raw := decodeAs[protocol.ReceiveMessageEvent](t, expectEvent(t, b, protocol.EventReceiveMessage))
	req.Equal("hello", raw.Text)
	req.Equal("Ana", raw.SenderDisplay)
	req.False(raw.IsOwn)

	tb := decodeAs[protocol.ReceiveTranslationEvent](t, expectEvent(t, b, protocol.EventReceiveTranslation))
	req.Equal("[es] hello", tb.TranslatedText)
	req.Equal("en", tb.FromLang)

	ta := decodeAs[protocol.OwnTranslatedMessageEvent](t, expectEvent(t, a, protocol.EventOwnTranslatedMessage))
	req.Equal("[es] hello", ta.TranslatedText)

	req.NoError(b.Close())
	expectEvent(t, a, protocol.EventPartnerDisconnected)
}

func TestWebsocketErrors(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	tests := []struct {
		name  string
		frame string
		code  int32
	}{
		{"not json", "hello there", protocol.CodeMalformed},
		{"no event", `{"data":{}}`, protocol.CodeMalformed},
		{"unknown event", `{"event":"dance"}`, protocol.CodeUnknownEvent},
		{"outbound event", `{"event":"paired","data":{}}`, protocol.CodeUnknownEvent},
		{"missing data", `{"event":"join-queue"}`, protocol.CodeInvalid},
		{"missing username", `{"event":"join-queue","data":{"language":"en"}}`, protocol.CodeInvalid},
		{"bad language", `{"event":"join-queue","data":{"username":"ana","language":"??"}}`, protocol.CodeInvalid},
		{"missing room", `{"event":"send-message","data":{"text":"hi"}}`, protocol.CodeInvalid},
		{"leave while idle", `{"event":"leave-queue"}`, protocol.CodeRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			ev := decodeAs[protocol.ErrorEvent](t, expectEvent(t, conn, protocol.EventError))
			require.Equal(t, tt.code, ev.Code, ev.Message)
			require.NotEmpty(t, ev.Message)
		})
	}

	// the connection survives all of the above
	sendEvent(t, conn, protocol.EventJoinQueue, protocol.JoinQueueRequest{Username: "ana", Language: "en"})
	expectEvent(t, conn, protocol.EventQueued)
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	srv, ts := newTestServer(t)
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.EqualValues(t, 1, srv.Metrics().RejectedOrigins.Load())
}

func TestHealthzAndMetrics(t *testing.T) {
	req := require.New(t)
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	sendEvent(t, conn, protocol.EventJoinQueue, protocol.JoinQueueRequest{Username: "ana", Language: "en"})
	expectEvent(t, conn, protocol.EventQueued)

	resp, err := http.Get(ts.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	var health healthResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&health))
	req.Equal("ok", health.Status)
	req.Equal("dev", health.Build.Version)
	req.Equal(1, health.Session.Queued)
	req.Equal(1, health.Session.Connections)

	mresp, err := http.Get(ts.URL + "/metrics")
	req.NoError(err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	req.NoError(err)
	text := string(body)
	req.Contains(text, "parley_connections_active 1\n")
	req.Contains(text, "parley_queue_size 1\n")
	req.Contains(text, "parley_queue_joins_total 1\n")
	req.Contains(text, "parley_cache_entries 0\n")
}

func TestShutdownClosesClients(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)
	sendEvent(t, conn, protocol.EventJoinQueue, protocol.JoinQueueRequest{Username: "ana", Language: "en"})
	expectEvent(t, conn, protocol.EventQueued)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// new upgrades are refused once shutdown started
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), http.Header{"Origin": []string{testOrigin}})
	require.Error(t, err)
	if resp != nil {
		defer resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
