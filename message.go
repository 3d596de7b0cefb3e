package tabsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind discriminates message variants on a channel.
type Kind string

const (
	// KindStateUpdate carries a store snapshot.
	KindStateUpdate Kind = "STATE_UPDATE"
)

// ErrMalformedMessage is returned by DecodeMessage for payloads that are not
// a message envelope.
var ErrMalformedMessage = errors.New("tabsync: malformed message")

// Message is the envelope published on a channel.
type Message struct {
	// Kind is the variant discriminator. Unknown kinds are ignored.
	Kind Kind `json:"kind"`
	// StoreName routes the message to one logical store. It is not the
	// channel name: several stores may share a channel.
	StoreName string `json:"storeName"`
	// State is the JSON snapshot of the store's synced fields.
	State json.RawMessage `json:"state"`
	// Timestamp is milliseconds since the Unix epoch at publish time.
	Timestamp int64 `json:"timestamp"`
}

// NewStateUpdate builds a state update message for storeName.
func NewStateUpdate[T any](storeName string, state T, at time.Time) (*Message, error) {
	if storeName == "" {
		return nil, fmt.Errorf("tabsync: store name cannot be empty")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("tabsync: marshal state: %w", err)
	}
	return &Message{
		Kind:      KindStateUpdate,
		StoreName: storeName,
		State:     data,
		Timestamp: at.UnixMilli(),
	}, nil
}

// DecodeMessage parses a channel payload. It only checks the envelope: a
// message with an unknown kind decodes successfully and is left to the
// caller to ignore.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	}
	if msg.Kind == KindStateUpdate && len(msg.State) == 0 {
		return nil, fmt.Errorf("%w: state update without state", ErrMalformedMessage)
	}
	return &msg, nil
}

// IsStateUpdateFor reports whether m is a state update addressed to storeName.
func (m *Message) IsStateUpdateFor(storeName string) bool {
	return m != nil && m.Kind == KindStateUpdate && m.StoreName == storeName
}

// Time returns the message timestamp.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}
