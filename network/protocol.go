package network

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the maximum accepted inbound WebSocket message size (64 KB).
	MaxFrameSize = 64 * 1024
	// DefaultOutboundBuffer is the per-session queue of frames awaiting write.
	DefaultOutboundBuffer = 32
)

// Client frame types.
const (
	TypeHello       = "hello"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Server frame types.
const (
	TypeResult = "result"
	TypeAck    = "ack"
	TypeError  = "error"
)

var (
	// ErrInvalidMessageType indicates the frame type is missing or unknown.
	ErrInvalidMessageType = errors.New("network: invalid message type")
	// ErrMissingFrameID indicates a subscribe or unsubscribe frame without an id.
	ErrMissingFrameID = errors.New("network: frame id is required")
	// ErrDuplicateSubscription indicates a subscribe frame reusing a live id.
	ErrDuplicateSubscription = errors.New("network: subscription id already in use")
)

// Envelope identifies the frame type.
type Envelope struct {
	Type string `json:"type"`
}

// ClientFrame is any frame sent by a client over the live socket.
//
//	{"type":"hello","external_id":"..."}
//	{"type":"subscribe","id":"s1","query":"messages","params":{"conversation_id":"..."}}
//	{"type":"unsubscribe","id":"s1"}
type ClientFrame struct {
	Type       string            `json:"type"`
	ID         string            `json:"id,omitempty"`
	Query      string            `json:"query,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	ExternalID string            `json:"external_id,omitempty"`
}

// ServerFrame is any frame pushed to a client.
type ServerFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// EncodeJSON marshals a protocol frame to JSON.
func EncodeJSON(frame any) ([]byte, error) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol frame: %w", err)
	}
	return payload, nil
}

// DecodeMessageType extracts the "type" field from a payload.
func DecodeMessageType(payload []byte) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", ErrInvalidMessageType
	}
	return envelope.Type, nil
}

// DecodeClientFrame parses and validates one client frame.
func DecodeClientFrame(payload []byte) (ClientFrame, error) {
	msgType, err := DecodeMessageType(payload)
	if err != nil {
		return ClientFrame{}, err
	}

	var frame ClientFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return ClientFrame{}, fmt.Errorf("decode %s frame: %w", msgType, err)
	}

	switch frame.Type {
	case TypeHello:
	case TypeSubscribe, TypeUnsubscribe:
		if frame.ID == "" {
			return ClientFrame{}, ErrMissingFrameID
		}
	default:
		return ClientFrame{}, fmt.Errorf("%w: %q", ErrInvalidMessageType, frame.Type)
	}
	return frame, nil
}
