package pairing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
)

func newTestCoordinator(t *testing.T, store Store, tr *redirectTransport, config CoordinatorConfig) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(store, tr, config)
	require.NoError(t, err)
	return c
}

func TestCoordinatorPairsAndRecordsMetrics(t *testing.T) {
	_, host := testIdentities(t)
	addr, _ := startHost(t, "123456", nil)

	reg := prometheus.NewRegistry()
	ks := newKeyStore(t)
	c := newTestCoordinator(t, ks, newRedirectTransport(t, addr), CoordinatorConfig{Registerer: reg})

	out := c.RequestHostPort(testContext(t), "123456", "192.0.2.5", 5555)

	require.True(t, out.Succeeded(), "outcome %s: %v", out, out.Err)
	assert.Equal(t, scenarioAddress, out.Peer.Address)
	assert.True(t, ks.IsCertTrusted(host.Certificate))
	assert.Empty(t, c.InFlight())

	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.attempts.WithLabelValues("Succeeded", "")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.inflight))
	assert.Equal(t, 1, testutil.CollectAndCount(c.metrics.duration))
}

func TestCoordinatorWrongCodeRecordsFailure(t *testing.T) {
	addr, _ := startHost(t, "000000", nil)

	ks := newKeyStore(t)
	backoff := NewAttemptTracker(DefaultBackoffTiers)
	c := newTestCoordinator(t, ks, newRedirectTransport(t, addr), CoordinatorConfig{Backoff: backoff})

	out := c.Request(testContext(t), "123456", scenarioAddress)

	assert.Equal(t, "Failed(AuthFailed)", out.String())
	assert.Empty(t, ks.Peers())
	assert.Equal(t, 1, backoff.Failures(scenarioAddress))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.attempts.WithLabelValues("Failed", "AuthFailed")))
}

func TestCoordinatorRejectsConcurrentRequest(t *testing.T) {
	device, _ := testIdentities(t)
	store := &mockStore{}
	store.On("EnsureIdentity").Return(device, nil)

	tr := newHangingTransport()
	c, err := NewCoordinator(store, tr, CoordinatorConfig{})
	require.NoError(t, err)

	first := make(chan Outcome, 1)
	go func() {
		first <- c.Request(context.Background(), "123456", scenarioAddress)
	}()
	conn := <-tr.dialed

	assert.Equal(t, []string{scenarioAddress}, c.InFlight())
	require.Eventually(t, func() bool {
		phase, ok := c.Phase(scenarioAddress)
		return ok && phase == PhaseKeyExchange
	}, 5*time.Second, 10*time.Millisecond)

	second := c.Request(context.Background(), "123456", scenarioAddress)
	assert.Equal(t, "Rejected(AlreadyInProgress)", second.String())
	assert.ErrorIs(t, second.Err, ErrAlreadyInProgress)

	// A different address is not blocked.
	other := c.Request(context.Background(), "bad", "192.0.2.6:5555")
	assert.Equal(t, "Failed(ProtocolError)", other.String())

	require.True(t, c.Cancel(scenarioAddress))
	select {
	case out := <-first:
		assert.Equal(t, StatusFailed, out.Status)
		assert.ErrorIs(t, out.Err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("first request did not finish after cancel")
	}
	assert.True(t, conn.IsClosed())
	assert.Empty(t, c.InFlight())
	assert.False(t, c.Cancel(scenarioAddress))
	_, ok := c.Phase(scenarioAddress)
	assert.False(t, ok)
	store.AssertNotCalled(t, "Trust", mock.Anything, mock.Anything)
}

func TestCoordinatorTimeout(t *testing.T) {
	device, _ := testIdentities(t)
	store := &mockStore{}
	store.On("EnsureIdentity").Return(device, nil)

	mc := clock.NewMock()
	mc.Set(time.Now())
	tr := newHangingTransport()
	c, err := NewCoordinator(store, tr, CoordinatorConfig{Clock: mc, Timeout: 30 * time.Second})
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() {
		done <- c.Request(context.Background(), "123456", scenarioAddress)
	}()
	conn := <-tr.dialed

	mc.Add(31 * time.Second)

	select {
	case out := <-done:
		assert.Equal(t, "Failed(Timeout)", out.String(), "error: %v", out.Err)
		assert.GreaterOrEqual(t, out.Duration, 30*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not time out")
	}
	assert.True(t, conn.IsClosed())
	store.AssertNotCalled(t, "Trust", mock.Anything, mock.Anything)
}

func TestCoordinatorInvalidCodeNeverDials(t *testing.T) {
	tr := &failingTransport{}
	c, err := NewCoordinator(&mockStore{}, tr, CoordinatorConfig{})
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		out := c.Request(context.Background(), code, scenarioAddress)
		assert.Equal(t, "Failed(ProtocolError)", out.String(), "code %q", code)
		assert.ErrorIs(t, out.Err, pake.ErrInvalidCode)
	}
	assert.Zero(t, tr.dials.Load())
}

func TestCoordinatorInvalidAddress(t *testing.T) {
	tr := &failingTransport{}
	c, err := NewCoordinator(&mockStore{}, tr, CoordinatorConfig{})
	require.NoError(t, err)

	for _, addr := range []string{"", "192.0.2.5", ":5555", "192.0.2.5:0", "192.0.2.5:70000", "host:port"} {
		out := c.Request(context.Background(), "123456", addr)
		assert.ErrorIs(t, out.Err, ErrInvalidAddress, "address %q", addr)
		assert.Equal(t, ReasonProtocolError, out.Reason)
	}

	out := c.RequestHostPort(context.Background(), "123456", "", 5555)
	assert.ErrorIs(t, out.Err, ErrInvalidAddress)
	out = c.RequestHostPort(context.Background(), "123456", "192.0.2.5", 0)
	assert.ErrorIs(t, out.Err, ErrInvalidAddress)

	assert.Zero(t, tr.dials.Load())
}

func TestCoordinatorRateLimiter(t *testing.T) {
	store := &mockStore{}
	store.On("EnsureIdentity").Return((*keystore.DeviceIdentity)(nil), fmt.Errorf("%w: no disk", keystore.ErrStorageFault))

	mc := clock.NewMock()
	c, err := NewCoordinator(store, &failingTransport{}, CoordinatorConfig{
		Clock:   mc,
		Limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
	})
	require.NoError(t, err)

	first := c.Request(context.Background(), "123456", scenarioAddress)
	assert.Equal(t, "Failed(StorageFault)", first.String())

	second := c.Request(context.Background(), "123456", "192.0.2.6:5555")
	assert.Equal(t, "Rejected(RateLimited)", second.String())
	assert.ErrorIs(t, second.Err, ErrRateLimited)

	mc.Add(time.Minute)
	third := c.Request(context.Background(), "123456", "192.0.2.6:5555")
	assert.Equal(t, StatusFailed, third.Status)
}

func TestCoordinatorBackoffAfterAuthFailures(t *testing.T) {
	store := &mockStore{}
	mc := clock.NewMock()
	backoff := NewAttemptTracker([4]time.Duration{0, time.Minute, time.Hour, time.Hour})
	for i := 0; i < 3; i++ {
		backoff.RecordFailure(scenarioAddress, mc.Now())
	}

	tr := &failingTransport{}
	c, err := NewCoordinator(store, tr, CoordinatorConfig{Clock: mc, Backoff: backoff})
	require.NoError(t, err)

	out := c.Request(context.Background(), "123456", scenarioAddress)
	assert.Equal(t, "Rejected(RateLimited)", out.String())
	assert.Zero(t, tr.dials.Load())

	store.On("EnsureIdentity").Return((*keystore.DeviceIdentity)(nil), fmt.Errorf("%w: locked", keystore.ErrStorageFault))
	mc.Add(time.Minute)
	out = c.Request(context.Background(), "123456", scenarioAddress)
	assert.Equal(t, "Failed(StorageFault)", out.String())
}

func TestCoordinatorSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, err := NewCoordinator(&mockStore{}, &failingTransport{}, CoordinatorConfig{Registerer: reg})
	require.NoError(t, err)
	b, err := NewCoordinator(&mockStore{}, &failingTransport{}, CoordinatorConfig{Registerer: reg})
	require.NoError(t, err)

	a.Request(context.Background(), "bad", scenarioAddress)
	b.Request(context.Background(), "bad", scenarioAddress)

	assert.Equal(t, float64(2), testutil.ToFloat64(a.metrics.attempts.WithLabelValues("Failed", "ProtocolError")))
}

func TestCoordinatorCancelAll(t *testing.T) {
	device, _ := testIdentities(t)
	store := &mockStore{}
	store.On("EnsureIdentity").Return(device, nil)

	tr := newHangingTransport()
	c, err := NewCoordinator(store, tr, CoordinatorConfig{})
	require.NoError(t, err)

	addrs := []string{"192.0.2.5:5555", "192.0.2.6:5555"}
	done := make(chan Outcome, len(addrs))
	for _, addr := range addrs {
		go func() {
			done <- c.Request(context.Background(), "123456", addr)
		}()
	}
	<-tr.dialed
	<-tr.dialed
	assert.Equal(t, addrs, c.InFlight())

	c.CancelAll()
	for range addrs {
		select {
		case out := <-done:
			assert.Equal(t, StatusFailed, out.Status)
		case <-time.After(5 * time.Second):
			t.Fatal("request did not finish after CancelAll")
		}
	}
	assert.Empty(t, c.InFlight())
}
