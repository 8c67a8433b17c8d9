package pairing

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/adbautoenable/adbpair-go/pkg/frame"
	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/log"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
	"github.com/adbautoenable/adbpair-go/pkg/transport"
)

// exchange drives the key and certificate exchange on one connection. The
// same steps serve both roles; only the send/receive order differs.
type exchange struct {
	conn   transport.Conn
	stream *transport.PacketStream
	role   pake.Role

	// event fills in the per-attempt event header.
	event func(log.Event) log.Event
	proto log.Logger
}

func newExchange(conn transport.Conn, role pake.Role, lc *transport.LogContext) *exchange {
	stream := transport.NewPacketStream(conn)
	stream.SetLogger(lc)
	return &exchange{
		conn:   conn,
		stream: stream,
		role:   role,
		proto:  log.OrNoop(lc.Logger),
		event: func(e log.Event) log.Event {
			e.Timestamp = lc.Now()
			e.ConnectionID = lc.ConnectionID
			e.LocalRole = lc.Role
			e.RemoteAddr = lc.RemoteAddr
			return e
		},
	}
}

func (x *exchange) isClient() bool {
	return x.role == pake.RoleClient
}

// pakeState records an engine state transition.
func (x *exchange) pakeState(from, to pake.State) {
	if from == to {
		return
	}
	x.proto.Log(x.event(log.Event{
		Layer:    log.LayerPake,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPake,
			OldState: from.String(),
			NewState: to.String(),
		},
	}))
}

// keyExchange runs the PAKE bound to the TLS session and returns a frame
// codec keyed with the result. The engine and raw key are wiped before
// returning.
func (x *exchange) keyExchange(code pake.Code) (*frame.Codec, error) {
	engine := pake.NewEngine(x.role)
	defer engine.Destroy()

	step := func(f func() ([]byte, error)) ([]byte, error) {
		before := engine.State()
		out, err := f()
		x.pakeState(before, engine.State())
		return out, err
	}

	ekm, err := x.conn.ExportKeyingMaterial(transport.EKMLabel, nil, transport.EKMSize)
	if err != nil {
		return nil, fmt.Errorf("export keying material: %w", err)
	}
	password := code.Password(ekm)
	local, err := step(func() ([]byte, error) { return engine.Start(password) })
	wipe(password)
	wipe(ekm)
	if err != nil {
		return nil, err
	}

	var peer []byte
	if x.isClient() {
		if err := x.stream.WritePacket(transport.Packet{Type: transport.PacketSpake2Msg, Payload: local}); err != nil {
			return nil, err
		}
		if peer, err = x.stream.ReadPacketOfType(transport.PacketSpake2Msg); err != nil {
			return nil, err
		}
	} else {
		if peer, err = x.stream.ReadPacketOfType(transport.PacketSpake2Msg); err != nil {
			return nil, err
		}
		if err := x.stream.WritePacket(transport.Packet{Type: transport.PacketSpake2Msg, Payload: local}); err != nil {
			return nil, err
		}
	}

	confirm, err := step(func() ([]byte, error) { return engine.OnPeerCommit(peer) })
	if err != nil {
		return nil, err
	}
	// Both sides send their confirmation before checking the peer's, so a
	// wrong code is reported as an authentication failure on both ends.
	if err := x.stream.WritePacket(transport.Packet{Type: transport.PacketSpake2Confirm, Payload: confirm}); err != nil {
		return nil, err
	}
	peerConfirm, err := x.stream.ReadPacketOfType(transport.PacketSpake2Confirm)
	if err != nil {
		return nil, err
	}
	key, err := step(func() ([]byte, error) { return engine.OnPeerConfirm(peerConfirm) })
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	return frame.New(key)
}

// certExchange swaps PeerInfo records through codec and returns the peer's
// validated certificate.
func (x *exchange) certExchange(codec *frame.Codec, local *x509.Certificate, now time.Time) (*x509.Certificate, error) {
	info, err := CertificatePeerInfo(local)
	if err != nil {
		return nil, err
	}
	sealed, err := codec.Seal(info.Marshal())
	if err != nil {
		return nil, fmt.Errorf("seal peer info: %w", err)
	}

	var peerFrame []byte
	if x.isClient() {
		if err := x.stream.WritePacket(transport.Packet{Type: transport.PacketPeerInfo, Payload: sealed}); err != nil {
			return nil, err
		}
		if peerFrame, err = x.stream.ReadPacketOfType(transport.PacketPeerInfo); err != nil {
			return nil, err
		}
	} else {
		if peerFrame, err = x.stream.ReadPacketOfType(transport.PacketPeerInfo); err != nil {
			return nil, err
		}
		if err := x.stream.WritePacket(transport.Packet{Type: transport.PacketPeerInfo, Payload: sealed}); err != nil {
			return nil, err
		}
	}

	plain, err := codec.Open(peerFrame)
	if err != nil {
		return nil, err
	}
	peerInfo, err := ParsePeerInfo(plain)
	if err != nil {
		return nil, err
	}
	cert, err := peerInfo.Certificate()
	if err != nil {
		return nil, err
	}
	if err := keystore.ValidatePeerCertificate(cert, now); err != nil {
		return nil, fmt.Errorf("peer certificate: %w", err)
	}
	return cert, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
