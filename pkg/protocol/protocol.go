// Package protocol defines the client event envelope and its framing.
//
// Every websocket text frame carries exactly one JSON envelope:
//
//	{"event": "send-message", "data": {"roomId": "...", "text": "hola"}}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// MaxMessageSize is the maximum size of a single inbound frame (16KB).
	MaxMessageSize = 16 * 1024

	// TimestampLayout matches JavaScript's Date.toISOString output.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

var (
	ErrMessageTooLarge = fmt.Errorf("protocol: message exceeds %d bytes", MaxMessageSize)
	ErrMissingEvent    = errors.New("protocol: envelope has no event name")
	ErrUnknownEvent    = errors.New("protocol: unknown event")
	ErrMissingData     = errors.New("protocol: event requires data")
)

// Envelope wraps every event exchanged with a client.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound event. A nil payload produces no data field.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s: %w", event, err)
		}
		env.Data = data
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses an inbound frame into an envelope. It does not look at Data.
func Decode(frame []byte) (*Envelope, error) {
	if len(frame) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	env := &Envelope{}
	if err := json.Unmarshal(frame, env); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	if !IsInbound(env.Event) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return env, nil
}

// DecodeData unmarshals and validates the data of an inbound envelope.
func DecodeData[T any](env *Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return v, fmt.Errorf("%w: %s", ErrMissingData, env.Event)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal %s: %w", env.Event, err)
	}
	if err := Validate(v); err != nil {
		return v, err
	}
	return v, nil
}

// Timestamp renders a server-assigned timestamp in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
