package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	req := require.New(t)

	frame, err := Encode(EventReceiveMessage, ReceiveMessageEvent{
		Text:          "hello",
		SenderDisplay: "alice",
		Timestamp:     "2024-01-01T00:00:00.000Z",
	})
	req.NoError(err)
	req.JSONEq(`{"event":"receive-message","data":{"text":"hello","senderDisplay":"alice","timestamp":"2024-01-01T00:00:00.000Z","isOwn":false}}`, string(frame))

	frame, err = Encode(EventPartnerDisconnected, nil)
	req.NoError(err)
	req.JSONEq(`{"event":"partner-disconnected"}`, string(frame))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"join", `{"event":"join-queue","data":{"username":"a","language":"en"}}`, nil},
		{"leave without data", `{"event":"leave-queue"}`, nil},
		{"missing event", `{"data":{}}`, ErrMissingEvent},
		{"outbound event from client", `{"event":"paired","data":{}}`, ErrUnknownEvent},
		{"unknown", `{"event":"shout"}`, ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)

	_, err = Decode([]byte(strings.Repeat("x", MaxMessageSize+1)))
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestDecodeData(t *testing.T) {
	req := require.New(t)

	env, err := Decode([]byte(`{"event":"send-message","data":{"roomId":"room_1","text":"hola","senderDisplay":"bob"}}`))
	req.NoError(err)
	msg, err := DecodeData[SendMessageRequest](env)
	req.NoError(err)
	req.Equal(SendMessageRequest{RoomID: "room_1", Text: "hola", SenderDisplay: "bob"}, msg)

	env, err = Decode([]byte(`{"event":"send-message","data":{"text":"hola"}}`))
	req.NoError(err)
	_, err = DecodeData[SendMessageRequest](env)
	var verr *ValidationError
	req.True(errors.As(err, &verr))
	req.Contains(verr.Error(), "roomId(required)")

	env, err = Decode([]byte(`{"event":"join-queue"}`))
	req.NoError(err)
	_, err = DecodeData[JoinQueueRequest](env)
	req.ErrorIs(err, ErrMissingData)

	env = &Envelope{Event: EventJoinQueue, Data: json.RawMessage(`{"username":5}`)}
	_, err = DecodeData[JoinQueueRequest](env)
	req.Error(err)
}

func TestValidateJoinQueue(t *testing.T) {
	tests := []struct {
		name  string
		req   JoinQueueRequest
		valid bool
	}{
		{"minimal", JoinQueueRequest{Username: "alice", Language: "en"}, true},
		{"attributes", JoinQueueRequest{Username: "alice", Language: "en", Attributes: map[string]string{"country": "UK"}}, true},
		{"no username", JoinQueueRequest{Language: "en"}, false},
		{"no language", JoinQueueRequest{Username: "alice"}, false},
		{"empty attribute key", JoinQueueRequest{Username: "alice", Language: "en", Attributes: map[string]string{"": "x"}}, false},
		{"long attribute", JoinQueueRequest{Username: "alice", Language: "en", Attributes: map[string]string{"bio": strings.Repeat("x", 257)}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 123_000_000, time.FixedZone("CET", 3600))
	require.Equal(t, "2024-03-05T13:07:09.123Z", Timestamp(ts))
}
