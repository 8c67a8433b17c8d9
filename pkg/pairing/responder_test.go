package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponderTrustsDevice(t *testing.T) {
	device, _ := testIdentities(t)
	hostStore := newKeyStore(t)
	addr, hostDone := startHost(t, "654321", hostStore)

	s := NewSession(newRedirectTransport(t, addr), newKeyStore(t), SessionConfig{})
	out := s.Run(testContext(t), "654321", scenarioAddress, device)
	require.True(t, out.Succeeded(), "outcome %s: %v", out, out.Err)

	res := <-hostDone
	require.NoError(t, res.err)
	assert.True(t, hostStore.IsCertTrusted(device.Certificate))
}

func TestNewResponderRequiresIdentity(t *testing.T) {
	_, err := NewResponder(ResponderConfig{})
	assert.Error(t, err)
}
