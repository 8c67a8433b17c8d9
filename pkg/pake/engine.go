package pake

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// Protocol sizes in bytes.
const (
	// CommitSize is the size of an uncompressed P-256 commitment.
	CommitSize = 65

	// ConfirmationSize is the size of a confirmation MAC.
	ConfirmationSize = sha256.Size

	// SessionKeySize is the size of the derived session key.
	SessionKeySize = 16
)

// Engine errors.
var (
	// ErrProtocol is returned for malformed or out-of-order messages.
	ErrProtocol = errors.New("pake protocol error")

	// ErrAuthFailed is returned when the peer's confirmation does not match,
	// which means the two sides used different codes.
	ErrAuthFailed = errors.New("pake authentication failed")

	// ErrEngineFailed is returned by every call on an engine that has failed.
	ErrEngineFailed = errors.New("pake engine has failed")
)

// Default party identities.
var (
	ClientIdentity = []byte("adb pair client\x00")
	ServerIdentity = []byte("adb pair server\x00")
)

var curve = elliptic.P256()

// M and N are the RFC 9382 P-256 points.
var (
	pointM = &curvePoint{
		x: mustHexBigInt("886e2f97ace46e55ba9dd7242579f2993b64e16ef3dcab95afd497333d8fa12f"),
		y: mustHexBigInt("5ff355163e43ce224e0b0e65ff02ac8e5c7be09419c785e0ca547d55a12e2d20"),
	}
	pointN = &curvePoint{
		x: mustHexBigInt("d8bbd6c639c62937b04d997f38c3770719c629d7014d49a24b4f98baa1292b49"),
		y: mustHexBigInt("07d60aa6bfade45008a636337f5168c64d9bd36034808cd564490b1e656edbe7"),
	}
)

type curvePoint struct {
	x, y *big.Int
}

func mustHexBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("invalid hex string: " + s)
	}
	return n
}

// Role selects which side of the exchange an engine plays.
type Role uint8

const (
	// RoleClient is party A, the side that dials.
	RoleClient Role = iota

	// RoleServer is party B, the side that accepts.
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return fmt.Sprintf("Role(%d)", r)
	}
}

// State is the engine state.
type State uint8

const (
	StateInit State = iota
	StateSentCommit
	StateReceivedCommit
	StateSentConfirm
	StateConfirmed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSentCommit:
		return "SentCommit"
	case StateReceivedCommit:
		return "ReceivedCommit"
	case StateSentConfirm:
		return "SentConfirm"
	case StateConfirmed:
		return "Confirmed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Engine runs one side of a single SPAKE2 exchange. It is single-shot and
// not safe for concurrent use.
type Engine struct {
	role     Role
	idA, idB []byte
	state    State

	// Secrets, wiped on completion, failure and Destroy.
	w      *big.Int
	scalar *big.Int

	commit     []byte
	transcript []byte
	sessionKey []byte
	peerKey    []byte // confirmation key for the peer's MAC
}

// NewEngine creates an engine for role using the default identities.
func NewEngine(role Role) *Engine {
	return NewEngineWithIdentities(role, ClientIdentity, ServerIdentity)
}

// NewEngineWithIdentities creates an engine for role with explicit party
// identities. Both sides must use the same pair.
func NewEngineWithIdentities(role Role, idA, idB []byte) *Engine {
	return &Engine{
		role: role,
		idA:  append([]byte(nil), idA...),
		idB:  append([]byte(nil), idB...),
	}
}

// Role returns the engine's role.
func (e *Engine) Role() Role {
	return e.role
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Start derives w from password and returns the local commitment.
// The client sends X = x·G + w·M, the server Y = y·G + w·N.
func (e *Engine) Start(password []byte) ([]byte, error) {
	if err := e.expect(StateInit); err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, e.fail(fmt.Errorf("%w: empty password", ErrProtocol))
	}

	w, err := deriveW(password, e.idA, e.idB)
	if err != nil {
		return nil, e.fail(err)
	}
	scalar, err := randomScalar()
	if err != nil {
		return nil, e.fail(err)
	}
	e.w = w
	e.scalar = scalar

	// T = scalar*G + w*(M or N)
	tx, ty := curve.ScalarBaseMult(scalar.Bytes())
	blind := e.localBlind()
	bx, by := curve.ScalarMult(blind.x, blind.y, w.Bytes())
	px, py := curve.Add(tx, ty, bx, by)

	e.commit = elliptic.Marshal(curve, px, py)
	e.state = StateSentCommit
	return append([]byte(nil), e.commit...), nil
}

// OnPeerCommit processes the peer's commitment, derives the shared keys and
// returns the local confirmation MAC.
func (e *Engine) OnPeerCommit(msg []byte) ([]byte, error) {
	if err := e.expect(StateSentCommit); err != nil {
		return nil, err
	}
	if len(msg) != CommitSize {
		return nil, e.fail(fmt.Errorf("%w: commitment is %d bytes, want %d", ErrProtocol, len(msg), CommitSize))
	}
	// Unmarshal rejects points not on the curve and the point at infinity.
	px, py := elliptic.Unmarshal(curve, msg)
	if px == nil {
		return nil, e.fail(fmt.Errorf("%w: commitment is not a valid point", ErrProtocol))
	}
	e.state = StateReceivedCommit

	// K = scalar*(peer - w*(N or M))
	blind := e.peerBlind()
	bx, by := curve.ScalarMult(blind.x, blind.y, e.w.Bytes())
	negY := new(big.Int).Sub(curve.Params().P, by)
	negY.Mod(negY, curve.Params().P)
	ux, uy := curve.Add(px, py, bx, negY)
	kx, ky := curve.ScalarMult(ux, uy, e.scalar.Bytes())
	if kx.Sign() == 0 && ky.Sign() == 0 {
		return nil, e.fail(fmt.Errorf("%w: shared point is the identity", ErrProtocol))
	}

	var x, y []byte
	if e.role == RoleClient {
		x, y = e.commit, msg
	} else {
		x, y = msg, e.commit
	}
	wBytes := make([]byte, 32)
	e.w.FillBytes(wBytes)
	e.transcript = transcript(e.idA, e.idB, x, y, elliptic.Marshal(curve, kx, ky), wBytes)
	zero(wBytes)

	sum := sha256.Sum256(e.transcript)
	ke, ka := sum[:16], sum[16:]

	confirmKeys := make([]byte, 32)
	r := hkdf.New(sha256.New, ka, nil, []byte("ConfirmationKeys"))
	if _, err := io.ReadFull(r, confirmKeys); err != nil {
		return nil, e.fail(fmt.Errorf("derive confirmation keys: %w", err))
	}
	kcA, kcB := confirmKeys[:16], confirmKeys[16:]

	e.sessionKey = append([]byte(nil), ke...)
	zero(sum[:])

	var localKey []byte
	if e.role == RoleClient {
		localKey = kcA
		e.peerKey = append([]byte(nil), kcB...)
	} else {
		localKey = kcB
		e.peerKey = append([]byte(nil), kcA...)
	}
	confirm := mac(localKey, e.transcript)
	zero(confirmKeys)

	e.state = StateSentConfirm
	return confirm, nil
}

// OnPeerConfirm verifies the peer's confirmation MAC and returns the session
// key. On mismatch the engine fails with ErrAuthFailed.
func (e *Engine) OnPeerConfirm(msg []byte) ([]byte, error) {
	if err := e.expect(StateSentConfirm); err != nil {
		return nil, err
	}
	if len(msg) != ConfirmationSize {
		return nil, e.fail(fmt.Errorf("%w: confirmation is %d bytes, want %d", ErrProtocol, len(msg), ConfirmationSize))
	}

	expected := mac(e.peerKey, e.transcript)
	if !hmac.Equal(expected, msg) {
		return nil, e.fail(ErrAuthFailed)
	}

	key := e.sessionKey
	e.sessionKey = nil
	e.wipe()
	e.state = StateConfirmed
	return key, nil
}

// Destroy wipes all secrets. A destroyed engine that had not confirmed is
// left in StateFailed.
func (e *Engine) Destroy() {
	e.wipe()
	if e.state != StateConfirmed {
		e.state = StateFailed
	}
}

func (e *Engine) expect(want State) error {
	if e.state == StateFailed {
		return ErrEngineFailed
	}
	if e.state != want {
		return e.fail(fmt.Errorf("%w: unexpected call in state %s", ErrProtocol, e.state))
	}
	return nil
}

func (e *Engine) fail(err error) error {
	e.wipe()
	e.state = StateFailed
	return err
}

func (e *Engine) wipe() {
	zeroInt(e.w)
	zeroInt(e.scalar)
	zero(e.sessionKey)
	zero(e.peerKey)
	zero(e.transcript)
	e.w, e.scalar = nil, nil
	e.sessionKey, e.peerKey, e.transcript = nil, nil, nil
}

func (e *Engine) localBlind() *curvePoint {
	if e.role == RoleClient {
		return pointM
	}
	return pointN
}

func (e *Engine) peerBlind() *curvePoint {
	if e.role == RoleClient {
		return pointN
	}
	return pointM
}

// deriveW maps the password to a scalar: HKDF-SHA256 with idA||idB as salt,
// reduced mod n.
func deriveW(password, idA, idB []byte) (*big.Int, error) {
	salt := append(append([]byte{}, idA...), idB...)
	r := hkdf.New(sha256.New, password, salt, []byte("SPAKE2-P256-SHA256 w"))

	// 64 bytes keeps the modular bias negligible.
	buf := make([]byte, 64)
	defer zero(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("derive w: %w", err)
	}
	w := new(big.Int).SetBytes(buf)
	return w.Mod(w, curve.Params().N), nil
}

func randomScalar() (*big.Int, error) {
	for {
		k, err := rand.Int(rand.Reader, curve.Params().N)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral scalar: %w", err)
		}
		if k.Sign() != 0 {
			return k, nil
		}
	}
}

// transcript concatenates fields, each prefixed with its 8-byte little-endian
// length.
func transcript(fields ...[]byte) []byte {
	n := 0
	for _, f := range fields {
		n += 8 + len(f)
	}
	tt := make([]byte, 0, n)
	for _, f := range fields {
		tt = binary.LittleEndian.AppendUint64(tt, uint64(len(f)))
		tt = append(tt, f...)
	}
	return tt
}

func mac(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func zeroInt(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}
