package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/adbautoenable/adbpair-go/pkg/log"
)

// Packet framing constants.
const (
	// HeaderSize is version(1) + type(1) + length(4).
	HeaderSize = 6

	// Version is the only supported header version.
	Version = 1

	// MaxPayloadSize is the largest accepted payload (16 KiB).
	MaxPayloadSize = 16 * 1024

	// MaxLogPayloadSize bounds the payload bytes copied into log events.
	MaxLogPayloadSize = 1024
)

// PacketType identifies the payload of a packet.
type PacketType uint8

const (
	PacketSpake2Msg     PacketType = 0
	PacketPeerInfo      PacketType = 1
	PacketSpake2Confirm PacketType = 2
)

// String returns the packet type name.
func (t PacketType) String() string {
	switch t {
	case PacketSpake2Msg:
		return "SPAKE2_MSG"
	case PacketPeerInfo:
		return "PEER_INFO"
	case PacketSpake2Confirm:
		return "SPAKE2_CONFIRM"
	default:
		return fmt.Sprintf("PacketType(%d)", t)
	}
}

// Packet framing errors.
var (
	// ErrMessageTooLarge indicates a payload above MaxPayloadSize.
	ErrMessageTooLarge = errors.New("packet too large")

	// ErrFrameTruncated indicates the stream ended inside a packet.
	ErrFrameTruncated = errors.New("packet truncated")

	// ErrBadVersion indicates an unsupported header version.
	ErrBadVersion = errors.New("unsupported packet version")

	// ErrUnexpectedPacket indicates a packet of the wrong type for the
	// current protocol step.
	ErrUnexpectedPacket = errors.New("unexpected packet type")
)

// Packet is one pairing packet.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// Encode returns the packet with its header.
func (p Packet) Encode() ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(p.Payload), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = Version
	buf[1] = byte(p.Type)
	binary.BigEndian.PutUint32(buf[2:HeaderSize], uint32(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// LogContext attributes packet events to a pairing attempt.
type LogContext struct {
	Logger       log.Logger
	ConnectionID string
	Role         log.Role
	RemoteAddr   string

	// Clock stamps events (default: wall clock).
	Clock clock.Clock
}

// Now returns the event time from Clock, or the wall clock when unset.
func (lc *LogContext) Now() time.Time {
	if lc.Clock == nil {
		return time.Now()
	}
	return lc.Clock.Now()
}

func (lc *LogContext) packetEvent(p Packet, direction log.Direction) log.Event {
	data := p.Payload
	truncated := false
	if len(data) > MaxLogPayloadSize {
		data = data[:MaxLogPayloadSize]
		truncated = true
	}
	return log.Event{
		Timestamp:    lc.Now(),
		ConnectionID: lc.ConnectionID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryPacket,
		LocalRole:    lc.Role,
		RemoteAddr:   lc.RemoteAddr,
		Packet: &log.PacketEvent{
			Type:      uint8(p.Type),
			Size:      HeaderSize + len(p.Payload),
			Data:      append([]byte(nil), data...),
			Truncated: truncated,
		},
	}
}

// PacketStream reads and writes packets on an underlying stream.
// Writes are serialized; reads must come from a single goroutine.
type PacketStream struct {
	rw        io.ReadWriter
	writeMu   sync.Mutex
	headerBuf [HeaderSize]byte
	logCtx    *LogContext
}

// NewPacketStream creates a PacketStream on rw.
func NewPacketStream(rw io.ReadWriter) *PacketStream {
	return &PacketStream{rw: rw}
}

// SetLogger enables packet logging. Pass nil to disable.
func (s *PacketStream) SetLogger(lc *LogContext) {
	if lc != nil && lc.Logger == nil {
		lc = nil
	}
	s.logCtx = lc
}

// WritePacket writes p with its header in a single write.
func (s *PacketStream) WritePacket(p Packet) error {
	buf, err := p.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.rw.Write(buf); err != nil {
		return fmt.Errorf("write %s packet: %w", p.Type, err)
	}
	if s.logCtx != nil {
		s.logCtx.Logger.Log(s.logCtx.packetEvent(p, log.DirectionOut))
	}
	return nil
}

// ReadPacket reads the next packet. io.EOF is returned unchanged when the
// stream ends on a packet boundary.
func (s *PacketStream) ReadPacket() (Packet, error) {
	if _, err := io.ReadFull(s.rw, s.headerBuf[:]); err != nil {
		if err == io.EOF {
			return Packet{}, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrFrameTruncated
		}
		return Packet{}, fmt.Errorf("read packet header: %w", err)
	}

	if s.headerBuf[0] != Version {
		return Packet{}, fmt.Errorf("%w: %d", ErrBadVersion, s.headerBuf[0])
	}
	length := binary.BigEndian.Uint32(s.headerBuf[2:HeaderSize])
	if length > MaxPayloadSize {
		return Packet{}, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, MaxPayloadSize)
	}

	p := Packet{
		Type:    PacketType(s.headerBuf[1]),
		Payload: make([]byte, length),
	}
	if _, err := io.ReadFull(s.rw, p.Payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return Packet{}, ErrFrameTruncated
		}
		return Packet{}, fmt.Errorf("read %s payload: %w", p.Type, err)
	}

	if s.logCtx != nil {
		s.logCtx.Logger.Log(s.logCtx.packetEvent(p, log.DirectionIn))
	}
	return p, nil
}

// ReadPacketOfType reads the next packet and checks its type.
func (s *PacketStream) ReadPacketOfType(want PacketType) ([]byte, error) {
	p, err := s.ReadPacket()
	if err != nil {
		return nil, err
	}
	if p.Type != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedPacket, p.Type, want)
	}
	return p.Payload, nil
}
