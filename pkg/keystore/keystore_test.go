package keystore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbautoenable/adbpair-go/pkg/storage"
)

// failingStorage wraps a Storage and fails writes to selected keys.
type failingStorage struct {
	storage.Storage
	failPut map[string]bool
}

func (f *failingStorage) Put(key string, value []byte) error {
	if f.failPut[key] {
		return errors.New("disk full")
	}
	return f.Storage.Put(key, value)
}

func newPeerCert(t *testing.T, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "adb host"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func validPeerCert(t *testing.T) *x509.Certificate {
	now := time.Now()
	return newPeerCert(t, now.Add(-time.Hour), now.Add(time.Hour))
}

func TestEnsureIdentityGeneratesOnce(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))

	st := storage.NewMemoryStorage()
	ks, err := Open(st, Config{Clock: mock})
	require.NoError(t, err)

	id, err := ks.EnsureIdentity()
	require.NoError(t, err)

	_, err = uuid.Parse(id.GUID)
	assert.NoError(t, err, "CN should be a GUID")
	assert.Equal(t, id.GUID, id.Certificate.Subject.CommonName)
	assert.Equal(t, KeyBits, id.PrivateKey.N.BitLen())
	assert.True(t, mock.Now().Add(-ClockSkewAllowance).Equal(id.Certificate.NotBefore))
	assert.True(t, mock.Now().Add(IdentityValidity).Equal(id.Certificate.NotAfter))
	assert.False(t, id.Certificate.IsCA)
	assert.NoError(t, id.Certificate.CheckSignature(id.Certificate.SignatureAlgorithm,
		id.Certificate.RawTBSCertificate, id.Certificate.Signature), "certificate is self-signed")

	again, err := ks.EnsureIdentity()
	require.NoError(t, err)
	assert.Same(t, id, again)

	// A second KeyStore over the same storage loads the same identity.
	ks2, err := Open(st, Config{Clock: mock})
	require.NoError(t, err)
	loaded, err := ks2.EnsureIdentity()
	require.NoError(t, err)
	assert.Equal(t, id.GUID, loaded.GUID)
	assert.True(t, id.PrivateKey.Equal(loaded.PrivateKey))
	assert.Equal(t, id.ID(), loaded.ID())
}

func TestEnsureIdentityConcurrent(t *testing.T) {
	ks, err := Open(storage.NewMemoryStorage(), Config{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]*DeviceIdentity, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := ks.EnsureIdentity()
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Same(t, ids[0], id)
	}
}

func TestEnsureIdentitySealedKey(t *testing.T) {
	st := storage.NewMemoryStorage()
	ks, err := Open(st, Config{Passphrase: "correct horse"})
	require.NoError(t, err)
	id, err := ks.EnsureIdentity()
	require.NoError(t, err)

	raw, err := st.Get(keyIdentityKey)
	require.NoError(t, err)
	assert.True(t, isSealed(raw), "key should be sealed at rest")
	assert.NotContains(t, string(raw), "PRIVATE KEY")

	ks2, err := Open(st, Config{Passphrase: "correct horse"})
	require.NoError(t, err)
	loaded, err := ks2.EnsureIdentity()
	require.NoError(t, err)
	assert.True(t, id.PrivateKey.Equal(loaded.PrivateKey))

	ks3, err := Open(st, Config{Passphrase: "wrong"})
	require.NoError(t, err)
	_, err = ks3.EnsureIdentity()
	assert.ErrorIs(t, err, ErrStorageFault)
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestEnsureIdentityDoesNotReplaceUnreadableIdentity(t *testing.T) {
	st := storage.NewMemoryStorage()
	ks, err := Open(st, Config{})
	require.NoError(t, err)
	_, err = ks.EnsureIdentity()
	require.NoError(t, err)

	require.NoError(t, st.Put(keyIdentityKey, []byte("garbage")))
	before, err := st.Get(keyIdentityCert)
	require.NoError(t, err)

	ks2, err := Open(st, Config{})
	require.NoError(t, err)
	_, err = ks2.EnsureIdentity()
	assert.ErrorIs(t, err, ErrStorageFault)

	after, err := st.Get(keyIdentityCert)
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing certificate must not be overwritten")
}

func TestEnsureIdentityWriteFailureLeavesNoPartialIdentity(t *testing.T) {
	mem := storage.NewMemoryStorage()
	st := &failingStorage{Storage: mem, failPut: map[string]bool{keyIdentityCert: true}}

	ks, err := Open(st, Config{})
	require.NoError(t, err)
	_, err = ks.EnsureIdentity()
	assert.ErrorIs(t, err, ErrStorageFault)

	keys, err := mem.List("identity/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestEnsureIdentityGenerationFailureIsStorageFault(t *testing.T) {
	// NotAfter lands past year 9999, which a certificate cannot encode.
	mock := clock.NewMock()
	mock.Set(time.Date(9995, 1, 1, 0, 0, 0, 0, time.UTC))

	st := storage.NewMemoryStorage()
	ks, err := Open(st, Config{Clock: mock})
	require.NoError(t, err)

	_, err = ks.EnsureIdentity()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFault)

	keys, err := st.List("identity/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestTrustAndLookup(t *testing.T) {
	mock := clock.NewMock()
	st := storage.NewMemoryStorage()
	ks, err := Open(st, Config{Clock: mock})
	require.NoError(t, err)

	cert := validPeerCert(t)
	peerID, err := PeerID(cert)
	require.NoError(t, err)
	assert.Len(t, peerID, IDLength)
	assert.False(t, ks.IsTrusted(peerID))

	peer, err := ks.Trust(cert, "192.0.2.5:5555")
	require.NoError(t, err)
	assert.Equal(t, peerID, peer.ID)
	assert.True(t, mock.Now().Equal(peer.PairedAt))
	assert.True(t, ks.IsTrusted(peerID))
	assert.True(t, ks.IsCertTrusted(cert))
	assert.Len(t, ks.Peers(), 1)

	// Re-pairing the same key replaces the record.
	mock.Add(time.Minute)
	_, err = ks.Trust(cert, "192.0.2.5:37000")
	require.NoError(t, err)
	require.Len(t, ks.Peers(), 1)
	got, ok := ks.Peer(peerID)
	require.True(t, ok)
	assert.Equal(t, "192.0.2.5:37000", got.Address)

	// Trust list survives a restart.
	ks2, err := Open(st, Config{Clock: mock})
	require.NoError(t, err)
	assert.True(t, ks2.IsTrusted(peerID))
	reloaded, _ := ks2.Peer(peerID)
	assert.Equal(t, cert.Raw, reloaded.Certificate.Raw)
	assert.True(t, reloaded.PairedAt.Equal(mock.Now()))
}

func TestTrustWriteFailureKeepsPreviousList(t *testing.T) {
	mem := storage.NewMemoryStorage()
	st := &failingStorage{Storage: mem, failPut: map[string]bool{}}
	ks, err := Open(st, Config{})
	require.NoError(t, err)

	first := validPeerCert(t)
	_, err = ks.Trust(first, "192.0.2.1:5555")
	require.NoError(t, err)

	st.failPut[keyTrustList] = true
	second := validPeerCert(t)
	_, err = ks.Trust(second, "192.0.2.2:5555")
	assert.ErrorIs(t, err, ErrStorageFault)

	assert.True(t, ks.IsCertTrusted(first))
	assert.False(t, ks.IsCertTrusted(second))

	ks2, err := Open(mem, Config{})
	require.NoError(t, err)
	assert.Len(t, ks2.Peers(), 1)
}

func TestForgetAndReset(t *testing.T) {
	ks, err := Open(storage.NewFileStorage(filepath.Join(t.TempDir(), "data")), Config{})
	require.NoError(t, err)

	a, err := ks.Trust(validPeerCert(t), "192.0.2.1:5555")
	require.NoError(t, err)
	b, err := ks.Trust(validPeerCert(t), "192.0.2.2:5555")
	require.NoError(t, err)

	require.NoError(t, ks.Forget(a.ID))
	assert.False(t, ks.IsTrusted(a.ID))
	assert.True(t, ks.IsTrusted(b.ID))
	assert.ErrorIs(t, ks.Forget(a.ID), ErrPeerNotFound)

	require.NoError(t, ks.Reset())
	assert.Empty(t, ks.Peers())
	require.NoError(t, ks.Reset(), "reset of an empty list is fine")
}

func TestOpenCorruptTrustList(t *testing.T) {
	st := storage.NewMemoryStorage()
	require.NoError(t, st.Put(keyTrustList, []byte("{not json")))

	_, err := Open(st, Config{})
	assert.ErrorIs(t, err, ErrStorageFault)
}

func TestValidatePeerCertificate(t *testing.T) {
	now := time.Now()

	weakKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	weakTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(time.Hour),
	}
	weakDER, err := x509.CreateCertificate(rand.Reader, weakTemplate, weakTemplate, &weakKey.PublicKey, weakKey)
	require.NoError(t, err)
	weak, err := x509.ParseCertificate(weakDER)
	require.NoError(t, err)

	tests := []struct {
		name string
		cert *x509.Certificate
		want error
	}{
		{"valid", validPeerCert(t), nil},
		{"nil", nil, ErrInvalidCert},
		{"expired", newPeerCert(t, now.Add(-2*time.Hour), now.Add(-time.Hour)), ErrCertExpired},
		{"not yet valid", newPeerCert(t, now.Add(time.Hour), now.Add(2*time.Hour)), ErrCertNotYetValid},
		{"weak rsa", weak, ErrWeakKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerCertificate(tt.cert, now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPEMRoundTrip(t *testing.T) {
	id, err := GenerateIdentity(time.Now(), "test")
	require.NoError(t, err)

	keyPEM, err := EncodeKeyPEM(id.PrivateKey)
	require.NoError(t, err)
	key, err := DecodeKeyPEM(keyPEM)
	require.NoError(t, err)
	assert.True(t, id.PrivateKey.Equal(key))

	cert, err := DecodeCertPEM(EncodeCertPEM(id.Certificate))
	require.NoError(t, err)
	assert.Equal(t, id.Certificate.Raw, cert.Raw)

	_, err = DecodeCertPEM(keyPEM)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}
