package pairing

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/log"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
	"github.com/adbautoenable/adbpair-go/pkg/storage"
	"github.com/adbautoenable/adbpair-go/pkg/transport"
)

const scenarioAddress = "192.0.2.5:5555"

var (
	identityOnce   sync.Once
	deviceIdentity *keystore.DeviceIdentity
	hostIdentity   *keystore.DeviceIdentity
)

// testIdentities returns a device and a host identity shared by all tests.
func testIdentities(t *testing.T) (device, host *keystore.DeviceIdentity) {
	t.Helper()
	identityOnce.Do(func() {
		var err error
		deviceIdentity, err = keystore.GenerateIdentity(time.Now(), "device")
		if err != nil {
			panic(err)
		}
		hostIdentity, err = keystore.GenerateIdentity(time.Now(), "host")
		if err != nil {
			panic(err)
		}
	})
	return deviceIdentity, hostIdentity
}

// newKeyStore returns an in-memory KeyStore holding the shared device identity.
func newKeyStore(t *testing.T) *keystore.KeyStore {
	t.Helper()
	device, _ := testIdentities(t)

	st := storage.NewMemoryStorage()
	keyPEM, err := keystore.EncodeKeyPEM(device.PrivateKey)
	require.NoError(t, err)
	require.NoError(t, st.Put("identity/key.pem", keyPEM))
	require.NoError(t, st.Put("identity/cert.pem", keystore.EncodeCertPEM(device.Certificate)))

	ks, err := keystore.Open(st, keystore.Config{})
	require.NoError(t, err)
	return ks
}

type hostResult struct {
	cert *x509.Certificate
	err  error
}

// startHost listens on loopback and runs one host-side exchange with code.
func startHost(t *testing.T, code pake.Code, trust TrustStore) (string, <-chan hostResult) {
	t.Helper()
	_, host := testIdentities(t)

	ln, err := transport.Listen("127.0.0.1:0", transport.ListenerConfig{Certificate: host.TLSCertificate()})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	responder, err := NewResponder(ResponderConfig{Identity: host, Trust: trust})
	require.NoError(t, err)

	results := make(chan hostResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, err := ln.Accept(ctx)
		if err != nil {
			results <- hostResult{err: err}
			return
		}
		cert, err := responder.Serve(ctx, conn, code)
		results <- hostResult{cert: cert, err: err}
	}()
	return ln.Addr().String(), results
}

// redirectTransport dials target whatever address it is asked for, so tests
// can use documentation addresses.
type redirectTransport struct {
	dialer *transport.TLSDialer
	target string

	mu     sync.Mutex
	dialed []string
}

func newRedirectTransport(t *testing.T, target string) *redirectTransport {
	t.Helper()
	device, _ := testIdentities(t)
	d, err := transport.NewTLSDialer(transport.DialerConfig{Certificate: device.TLSCertificate()})
	require.NoError(t, err)
	return &redirectTransport{dialer: d, target: target}
}

func (r *redirectTransport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	r.mu.Lock()
	r.dialed = append(r.dialed, address)
	r.mu.Unlock()
	return r.dialer.Dial(ctx, r.target)
}

func (r *redirectTransport) Dialed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dialed...)
}

// hangingConn accepts writes and blocks reads until closed.
type hangingConn struct {
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newHangingConn() *hangingConn {
	return &hangingConn{closed: make(chan struct{})}
}

func (c *hangingConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *hangingConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
		return len(p), nil
	}
}

func (c *hangingConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *hangingConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *hangingConn) ExportKeyingMaterial(string, []byte, int) ([]byte, error) {
	return make([]byte, transport.EKMSize), nil
}

func (c *hangingConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 5), Port: 5555}
}

func (c *hangingConn) PeerCertificate() *x509.Certificate {
	return nil
}

// hangingTransport hands out hangingConns and reports each dial.
type hangingTransport struct {
	dialed chan *hangingConn
}

func newHangingTransport() *hangingTransport {
	return &hangingTransport{dialed: make(chan *hangingConn, 8)}
}

func (h *hangingTransport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	c := newHangingConn()
	h.dialed <- c
	return c, nil
}

// failingTransport fails every dial.
type failingTransport struct {
	dials atomic.Int32
}

func (f *failingTransport) Dial(context.Context, string) (transport.Conn, error) {
	f.dials.Add(1)
	return nil, errors.New("connection refused")
}

// mockStore is a testify mock of Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) EnsureIdentity() (*keystore.DeviceIdentity, error) {
	args := m.Called()
	id, _ := args.Get(0).(*keystore.DeviceIdentity)
	return id, args.Error(1)
}

func (m *mockStore) Trust(cert *x509.Certificate, address string) (keystore.TrustedPeer, error) {
	args := m.Called(cert, address)
	return args.Get(0).(keystore.TrustedPeer), args.Error(1)
}

// recordingLogger collects protocol events.
type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) all() []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]log.Event(nil), r.events...)
}

func (r *recordingLogger) sessionPhases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var phases []string
	for _, e := range r.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntitySession {
			phases = append(phases, e.StateChange.NewState)
		}
	}
	return phases
}

func (r *recordingLogger) packets(dir log.Direction, typ transport.PacketType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Packet != nil && e.Direction == dir && e.Packet.Type == uint8(typ) {
			n++
		}
	}
	return n
}

var _ io.ReadWriteCloser = (*hangingConn)(nil)
