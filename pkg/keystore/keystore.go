package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/adbautoenable/adbpair-go/pkg/storage"
)

// Storage keys.
const (
	keyIdentityKey  = "identity/key.pem"
	keyIdentityCert = "identity/cert.pem"
	keyTrustList    = "trust/peers.json"
)

// trustListVersion is the current version of the trust list document.
const trustListVersion = 1

// Config configures a KeyStore.
type Config struct {
	// Passphrase seals the private key at rest. Empty stores it as PEM.
	Passphrase string

	// Organization is written into the identity certificate subject.
	Organization string

	// Clock is the time source (default: wall clock).
	Clock clock.Clock

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// KeyStore owns the device identity and the trusted-peer list.
// It is safe for concurrent use; trust list writes are serialized.
type KeyStore struct {
	storage storage.Storage
	config  Config
	clock   clock.Clock

	// identityMu serializes identity creation.
	identityMu sync.Mutex
	identity   *DeviceIdentity

	// mu guards peers. Writers hold it for the whole persist step.
	mu    sync.RWMutex
	peers map[string]TrustedPeer
}

// Open creates a KeyStore on top of st and loads the trust list.
// Returns an error wrapping ErrStorageFault if the trust list is unreadable.
func Open(st storage.Storage, config Config) (*KeyStore, error) {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Organization == "" {
		config.Organization = "adbpair"
	}

	ks := &KeyStore{
		storage: st,
		config:  config,
		clock:   config.Clock,
		peers:   make(map[string]TrustedPeer),
	}
	if err := ks.loadTrustList(); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *KeyStore) debugLog(msg string, args ...any) {
	if ks.config.Logger != nil {
		ks.config.Logger.Debug(msg, args...)
	}
}

// EnsureIdentity returns the device identity, generating and persisting a new
// one if none exists yet. Concurrent first calls generate exactly once.
//
// An identity that exists but cannot be read is reported as a storage fault
// rather than replaced, since replacing it would silently drop every trust
// relationship built on the old key.
func (ks *KeyStore) EnsureIdentity() (*DeviceIdentity, error) {
	ks.identityMu.Lock()
	defer ks.identityMu.Unlock()

	if ks.identity != nil {
		return ks.identity, nil
	}

	id, err := ks.loadIdentity()
	if errors.Is(err, storage.ErrNotFound) {
		id, err = ks.createIdentity()
	}
	if err != nil {
		return nil, err
	}

	ks.identity = id
	return id, nil
}

func (ks *KeyStore) loadIdentity() (*DeviceIdentity, error) {
	// The certificate is written last, so its presence marks a complete identity.
	certPEM, err := ks.storage.Get(keyIdentityCert)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read identity certificate: %w", ErrStorageFault, err)
	}
	cert, err := DecodeCertPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: decode identity certificate: %w", ErrStorageFault, err)
	}

	keyData, err := ks.storage.Get(keyIdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: read identity key: %w", ErrStorageFault, err)
	}
	key, err := ks.decodeKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("%w: decode identity key: %w", ErrStorageFault, err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, fmt.Errorf("%w: %w", ErrStorageFault, ErrKeyMismatch)
	}

	ks.debugLog("identity loaded", "guid", cert.Subject.CommonName, "notAfter", cert.NotAfter)
	return &DeviceIdentity{
		GUID:        cert.Subject.CommonName,
		Certificate: cert,
		PrivateKey:  key,
	}, nil
}

func (ks *KeyStore) decodeKey(data []byte) (*rsa.PrivateKey, error) {
	if !isSealed(data) {
		return DecodeKeyPEM(data)
	}
	der, err := unseal(ks.config.Passphrase, data)
	if err != nil {
		return nil, err
	}
	defer zero(der)
	return parsePKCS8RSA(der)
}

func (ks *KeyStore) encodeKey(key *rsa.PrivateKey) ([]byte, error) {
	if ks.config.Passphrase == "" {
		return EncodeKeyPEM(key)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	defer zero(der)
	return seal(ks.config.Passphrase, der)
}

func (ks *KeyStore) createIdentity() (*DeviceIdentity, error) {
	id, err := GenerateIdentity(ks.clock.Now(), ks.config.Organization)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFault, err)
	}

	keyData, err := ks.encodeKey(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encode identity key: %w", ErrStorageFault, err)
	}
	if err := ks.storage.Put(keyIdentityKey, keyData); err != nil {
		return nil, fmt.Errorf("%w: write identity key: %w", ErrStorageFault, err)
	}
	if err := ks.storage.Put(keyIdentityCert, EncodeCertPEM(id.Certificate)); err != nil {
		// Without the certificate the key is an orphan; remove it.
		_ = ks.storage.Delete(keyIdentityKey)
		return nil, fmt.Errorf("%w: write identity certificate: %w", ErrStorageFault, err)
	}

	ks.debugLog("identity generated", "guid", id.GUID, "notAfter", id.Certificate.NotAfter)
	return id, nil
}

// GenerateIdentity creates a fresh RSA key pair and self-signed certificate
// with a random GUID as its common name.
func GenerateIdentity(now time.Time, organization string) (*DeviceIdentity, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	guid := uuid.New().String()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   guid,
			Organization: []string{organization},
		},
		NotBefore:             now.Add(-ClockSkewAllowance),
		NotAfter:              now.Add(IdentityValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &DeviceIdentity{
		GUID:        guid,
		Certificate: cert,
		PrivateKey:  key,
	}, nil
}

// trustRecord is the persisted form of a TrustedPeer.
type trustRecord struct {
	ID          string    `json:"id"`
	Address     string    `json:"address,omitempty"`
	PairedAt    time.Time `json:"paired_at"`
	Certificate string    `json:"certificate"`
}

// trustList is the persisted trust list document.
type trustList struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Peers   []trustRecord `json:"peers"`
}

func (ks *KeyStore) loadTrustList() error {
	data, err := ks.storage.Get(keyTrustList)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read trust list: %w", ErrStorageFault, err)
	}

	var doc trustList
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: decode trust list: %w", ErrStorageFault, err)
	}

	for _, rec := range doc.Peers {
		cert, err := DecodeCertPEM([]byte(rec.Certificate))
		if err != nil {
			return fmt.Errorf("%w: decode trusted peer %s: %w", ErrStorageFault, rec.ID, err)
		}
		ks.peers[rec.ID] = TrustedPeer{
			ID:          rec.ID,
			Certificate: cert,
			Address:     rec.Address,
			PairedAt:    rec.PairedAt,
		}
	}
	ks.debugLog("trust list loaded", "peers", len(ks.peers))
	return nil
}

// saveTrustList persists peers. Caller must hold ks.mu for writing.
func (ks *KeyStore) saveTrustList(peers map[string]TrustedPeer) error {
	doc := trustList{
		Version: trustListVersion,
		SavedAt: ks.clock.Now(),
		Peers:   make([]trustRecord, 0, len(peers)),
	}
	for _, p := range sortedPeers(peers) {
		doc.Peers = append(doc.Peers, trustRecord{
			ID:          p.ID,
			Address:     p.Address,
			PairedAt:    p.PairedAt,
			Certificate: string(EncodeCertPEM(p.Certificate)),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trust list: %w", err)
	}
	if err := ks.storage.Put(keyTrustList, data); err != nil {
		return fmt.Errorf("%w: write trust list: %w", ErrStorageFault, err)
	}
	return nil
}

// Trust records cert as trusted, replacing any previous record with the same
// peer ID. The peer ID is derived from the certificate. The in-memory list is
// only updated once the write succeeded.
func (ks *KeyStore) Trust(cert *x509.Certificate, address string) (TrustedPeer, error) {
	peerID, err := PeerID(cert)
	if err != nil {
		return TrustedPeer{}, err
	}

	peer := TrustedPeer{
		ID:          peerID,
		Certificate: cert,
		Address:     address,
		PairedAt:    ks.clock.Now(),
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	next := make(map[string]TrustedPeer, len(ks.peers)+1)
	for id, p := range ks.peers {
		next[id] = p
	}
	_, replaced := next[peerID]
	next[peerID] = peer

	if err := ks.saveTrustList(next); err != nil {
		return TrustedPeer{}, err
	}
	ks.peers = next

	ks.debugLog("peer trusted", "peerID", peerID, "address", address, "replaced", replaced)
	return peer, nil
}

// IsTrusted reports whether peerID is in the trust list.
func (ks *KeyStore) IsTrusted(peerID string) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	_, ok := ks.peers[peerID]
	return ok
}

// IsCertTrusted reports whether the certificate's key is in the trust list.
func (ks *KeyStore) IsCertTrusted(cert *x509.Certificate) bool {
	peerID, err := PeerID(cert)
	if err != nil {
		return false
	}
	return ks.IsTrusted(peerID)
}

// Peer returns the trusted peer with the given ID.
func (ks *KeyStore) Peer(peerID string) (TrustedPeer, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	p, ok := ks.peers[peerID]
	return p, ok
}

// Peers returns all trusted peers ordered by pairing time.
func (ks *KeyStore) Peers() []TrustedPeer {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return sortedPeers(ks.peers)
}

// Forget removes a peer from the trust list.
// Returns ErrPeerNotFound if the peer is not trusted.
func (ks *KeyStore) Forget(peerID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.peers[peerID]; !ok {
		return ErrPeerNotFound
	}

	next := make(map[string]TrustedPeer, len(ks.peers))
	for id, p := range ks.peers {
		if id != peerID {
			next[id] = p
		}
	}
	if err := ks.saveTrustList(next); err != nil {
		return err
	}
	ks.peers = next

	ks.debugLog("peer forgotten", "peerID", peerID)
	return nil
}

// Reset clears the whole trust list. The identity is kept.
func (ks *KeyStore) Reset() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.storage.Delete(keyTrustList); err != nil {
		return fmt.Errorf("%w: delete trust list: %w", ErrStorageFault, err)
	}
	ks.peers = make(map[string]TrustedPeer)

	ks.debugLog("trust list reset")
	return nil
}

func sortedPeers(peers map[string]TrustedPeer) []TrustedPeer {
	out := make([]TrustedPeer, 0, len(peers))
	for _, p := range peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PairedAt.Equal(out[j].PairedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PairedAt.Before(out[j].PairedAt)
	})
	return out
}
