package log

import (
	"testing"
	"time"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerPake.String(), "PAKE"},
		{LayerSession.String(), "SESSION"},
		{Layer(9).String(), "UNKNOWN"},
		{CategoryPacket.String(), "PACKET"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{RoleDevice.String(), "DEVICE"},
		{RoleHost.String(), "HOST"},
		{StateEntitySession.String(), "SESSION"},
		{StateEntityPake.String(), "PAKE"},
		{StateEntityCoordinator.String(), "COORDINATOR"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	ts := time.Date(2026, 10, 18, 9, 30, 0, 123456789, time.UTC)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name: "packet",
			event: Event{
				Timestamp:    ts,
				ConnectionID: "c1",
				Direction:    DirectionOut,
				Layer:        LayerTransport,
				Category:     CategoryPacket,
				RemoteAddr:   "192.0.2.5:5555",
				Packet:       &PacketEvent{Type: 0, Size: 71, Data: []byte{0x04, 0x01}},
			},
		},
		{
			name: "state change",
			event: Event{
				Timestamp:    ts,
				ConnectionID: "c2",
				Layer:        LayerSession,
				Category:     CategoryState,
				LocalRole:    RoleHost,
				StateChange: &StateChangeEvent{
					Entity:   StateEntitySession,
					OldState: "KeyExchange",
					NewState: "Failed",
					Reason:   "AuthFailed",
				},
			},
		},
		{
			name: "error",
			event: Event{
				Timestamp: ts,
				Layer:     LayerPake,
				Category:  CategoryError,
				PeerID:    "0123456789abcdef",
				Error:     &ErrorEventData{Layer: LayerPake, Message: "bad point", Context: "commit"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}
			got, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}

			if !got.Timestamp.Equal(ts) {
				t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
			}
			if got.ConnectionID != tt.event.ConnectionID || got.Layer != tt.event.Layer ||
				got.Category != tt.event.Category || got.LocalRole != tt.event.LocalRole {
				t.Errorf("header mismatch: got %+v", got)
			}
			if (got.Packet == nil) != (tt.event.Packet == nil) ||
				(got.StateChange == nil) != (tt.event.StateChange == nil) ||
				(got.Error == nil) != (tt.event.Error == nil) {
				t.Fatalf("payload presence mismatch: got %+v", got)
			}
			if tt.event.StateChange != nil && *got.StateChange != *tt.event.StateChange {
				t.Errorf("StateChange = %+v, want %+v", *got.StateChange, *tt.event.StateChange)
			}
			if tt.event.Error != nil && *got.Error != *tt.event.Error {
				t.Errorf("Error = %+v, want %+v", *got.Error, *tt.event.Error)
			}
		})
	}
}

func TestDecodeEventGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error decoding garbage")
	}
}
