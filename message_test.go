package tabsync

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewStateUpdate(t *testing.T) {
	msg, err := NewStateUpdate("chart", snapshot{Value: "x", Count: 2}, epoch)
	if err != nil {
		t.Fatalf("NewStateUpdate() error = %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"kind":"STATE_UPDATE","storeName":"chart","state":{"value":"x","count":2},"timestamp":1736937000000}`
	if string(data) != want {
		t.Errorf("wire form = %s\nwant %s", data, want)
	}
	if !msg.Time().Equal(epoch) {
		t.Errorf("Time() = %v, want %v", msg.Time(), epoch)
	}
}

func TestNewStateUpdateErrors(t *testing.T) {
	if _, err := NewStateUpdate("", snapshot{}, epoch); err == nil {
		t.Error("expected error for empty store name")
	}
	if _, err := NewStateUpdate("chart", make(chan int), epoch); err == nil {
		t.Error("expected error for unserializable state")
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		kind    Kind
	}{
		{"state update", `{"kind":"STATE_UPDATE","storeName":"chart","state":{},"timestamp":1}`, false, KindStateUpdate},
		{"unknown kind", `{"kind":"HELLO"}`, false, "HELLO"},
		{"not json", `nope`, true, ""},
		{"array", `[1,2]`, true, ""},
		{"missing kind", `{"storeName":"chart","state":{}}`, true, ""},
		{"state update without state", `{"kind":"STATE_UPDATE","storeName":"chart"}`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Errorf("error = %v, want %v", err, ErrMalformedMessage)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeMessage() error = %v", err)
			}
			if msg.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", msg.Kind, tt.kind)
			}
		})
	}
}

func TestIsStateUpdateFor(t *testing.T) {
	msg := &Message{Kind: KindStateUpdate, StoreName: "chart"}
	if !msg.IsStateUpdateFor("chart") {
		t.Error("expected match for chart")
	}
	if msg.IsStateUpdateFor("table") {
		t.Error("unexpected match for table")
	}

	other := &Message{Kind: "PING", StoreName: "chart"}
	if other.IsStateUpdateFor("chart") {
		t.Error("unexpected match for unknown kind")
	}

	var nilMsg *Message
	if nilMsg.IsStateUpdateFor("chart") {
		t.Error("unexpected match for nil message")
	}
}
