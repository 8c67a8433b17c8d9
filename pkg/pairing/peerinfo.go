package pairing

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
)

// PeerInfo layout: type(1) | data(8191), zero padded.
const (
	PeerInfoSize     = 8192
	PeerInfoDataSize = PeerInfoSize - 1
)

// PeerInfo types.
const (
	PeerInfoRSAPublicKey uint8 = 0
	PeerInfoDeviceGUID   uint8 = 1
	PeerInfoCertificate  uint8 = 2
)

// ErrInvalidPeerInfo is returned for malformed peer info records.
var ErrInvalidPeerInfo = errors.New("invalid peer info")

// PeerInfo is the identity record each side sends inside the encrypted
// exchange.
type PeerInfo struct {
	Type uint8
	Data []byte
}

// CertificatePeerInfo wraps a certificate's DER encoding.
func CertificatePeerInfo(cert *x509.Certificate) (PeerInfo, error) {
	if cert == nil {
		return PeerInfo{}, fmt.Errorf("%w: no certificate", ErrInvalidPeerInfo)
	}
	if len(cert.Raw) > PeerInfoDataSize {
		return PeerInfo{}, fmt.Errorf("%w: certificate is %d bytes, limit %d", ErrInvalidPeerInfo, len(cert.Raw), PeerInfoDataSize)
	}
	return PeerInfo{Type: PeerInfoCertificate, Data: cert.Raw}, nil
}

// Marshal returns the fixed-size encoding.
func (p PeerInfo) Marshal() []byte {
	buf := make([]byte, PeerInfoSize)
	buf[0] = p.Type
	copy(buf[1:], p.Data)
	return buf
}

// ParsePeerInfo decodes a fixed-size record. Data keeps its zero padding;
// use Certificate to extract a certificate.
func ParsePeerInfo(b []byte) (PeerInfo, error) {
	if len(b) != PeerInfoSize {
		return PeerInfo{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPeerInfo, len(b), PeerInfoSize)
	}
	return PeerInfo{Type: b[0], Data: b[1:]}, nil
}

// Certificate parses the certificate carried by a PeerInfoCertificate record.
// Everything after the DER value must be zero padding.
func (p PeerInfo) Certificate() (*x509.Certificate, error) {
	if p.Type != PeerInfoCertificate {
		return nil, fmt.Errorf("%w: type %d does not carry a certificate", ErrInvalidPeerInfo, p.Type)
	}

	var raw asn1.RawValue
	rest, err := asn1.Unmarshal(p.Data, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerInfo, err)
	}
	for _, b := range rest {
		if b != 0 {
			return nil, fmt.Errorf("%w: trailing data after certificate", ErrInvalidPeerInfo)
		}
	}

	cert, err := x509.ParseCertificate(raw.FullBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerInfo, err)
	}
	return cert, nil
}
