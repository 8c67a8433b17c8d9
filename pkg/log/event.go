package log

import "time"

// Event is a protocol event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one pairing attempt (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction of packet flow. Only meaningful for packet events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"5,keyasint"`

	// LocalRole is the pairing role of the local endpoint.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (host:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// PeerID is the peer's key fingerprint, set once the certificate is known.
	PeerID string `cbor:"8,keyasint,omitempty"`

	Packet      *PacketEvent      `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of packet flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the pairing stack captured the event.
type Layer uint8

const (
	// LayerTransport is the packet layer.
	LayerTransport Layer = 0
	// LayerPake is the key exchange.
	LayerPake Layer = 1
	// LayerSession is the pairing session and coordinator.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerPake:
		return "PAKE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryPacket Category = 0
	CategoryState  Category = 1
	CategoryError  Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPacket:
		return "PACKET"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the pairing role of the local endpoint.
type Role uint8

const (
	// RoleDevice is the initiating side that dials and presents the code.
	RoleDevice Role = 0
	// RoleHost is the responding side that displays the code.
	RoleHost Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleHost:
		return "HOST"
	default:
		return "UNKNOWN"
	}
}

// PacketEvent captures one pairing packet.
type PacketEvent struct {
	// Type is the packet type byte.
	Type uint8 `cbor:"1,keyasint"`

	// Size is the packet size in bytes including the header.
	Size int `cbor:"2,keyasint"`

	// Data is the payload, possibly truncated.
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures pairing lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change, set for failures.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	StateEntitySession     StateEntity = 0
	StateEntityPake        StateEntity = 1
	StateEntityCoordinator StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityPake:
		return "PAKE"
	case StateEntityCoordinator:
		return "COORDINATOR"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
