package pairing

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerInfoCertificateRoundTrip(t *testing.T) {
	device, _ := testIdentities(t)

	info, err := CertificatePeerInfo(device.Certificate)
	require.NoError(t, err)

	wire := info.Marshal()
	require.Len(t, wire, PeerInfoSize)
	assert.Equal(t, PeerInfoCertificate, wire[0])

	parsed, err := ParsePeerInfo(wire)
	require.NoError(t, err)
	cert, err := parsed.Certificate()
	require.NoError(t, err)
	assert.True(t, cert.Equal(device.Certificate))
}

func TestPeerInfoRejectsMalformed(t *testing.T) {
	device, _ := testIdentities(t)
	info, err := CertificatePeerInfo(device.Certificate)
	require.NoError(t, err)
	wire := info.Marshal()

	t.Run("short", func(t *testing.T) {
		_, err := ParsePeerInfo(wire[:PeerInfoSize-1])
		assert.ErrorIs(t, err, ErrInvalidPeerInfo)
	})

	t.Run("wrong type", func(t *testing.T) {
		b := append([]byte(nil), wire...)
		b[0] = PeerInfoDeviceGUID
		p, err := ParsePeerInfo(b)
		require.NoError(t, err)
		_, err = p.Certificate()
		assert.ErrorIs(t, err, ErrInvalidPeerInfo)
	})

	t.Run("trailing garbage", func(t *testing.T) {
		b := append([]byte(nil), wire...)
		b[PeerInfoSize-1] = 0xff
		p, err := ParsePeerInfo(b)
		require.NoError(t, err)
		_, err = p.Certificate()
		assert.ErrorIs(t, err, ErrInvalidPeerInfo)
	})

	t.Run("not der", func(t *testing.T) {
		p := PeerInfo{Type: PeerInfoCertificate, Data: []byte{0x01, 0x02, 0x03}}
		_, err := p.Certificate()
		assert.ErrorIs(t, err, ErrInvalidPeerInfo)
	})

	t.Run("oversized certificate", func(t *testing.T) {
		_, err := CertificatePeerInfo(&x509.Certificate{Raw: make([]byte, PeerInfoDataSize+1)})
		assert.ErrorIs(t, err, ErrInvalidPeerInfo)
	})

	t.Run("nil certificate", func(t *testing.T) {
		_, err := CertificatePeerInfo(nil)
		assert.ErrorIs(t, err, ErrInvalidPeerInfo)
	})
}
