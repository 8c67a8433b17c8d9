package pairing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adbautoenable/adbpair-go/pkg/frame"
	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
	"github.com/adbautoenable/adbpair-go/pkg/transport"
)

// Status is the terminal status of a pairing request.
type Status uint8

const (
	// StatusSucceeded means the peer is now trusted.
	StatusSucceeded Status = iota

	// StatusFailed means the attempt ran and failed.
	StatusFailed

	// StatusRejected means the coordinator refused to start the attempt.
	StatusRejected
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	case StatusRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

// Reason explains a failed or rejected outcome.
type Reason uint8

const (
	ReasonNone Reason = iota

	// ReasonNetworkError covers connect, send and receive failures.
	ReasonNetworkError

	// ReasonTimeout means the attempt exceeded its time bound.
	ReasonTimeout

	// ReasonAuthFailed means the codes did not match or the exchange was
	// tampered with.
	ReasonAuthFailed

	// ReasonProtocolError means the peer sent something malformed.
	ReasonProtocolError

	// ReasonStorageFault means the identity or trust list could not be
	// read or written.
	ReasonStorageFault

	// ReasonAlreadyInProgress means another attempt to the same address is
	// running.
	ReasonAlreadyInProgress

	// ReasonRateLimited means the attempt budget is exhausted.
	ReasonRateLimited
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonNetworkError:
		return "NetworkError"
	case ReasonTimeout:
		return "Timeout"
	case ReasonAuthFailed:
		return "AuthFailed"
	case ReasonProtocolError:
		return "ProtocolError"
	case ReasonStorageFault:
		return "StorageFault"
	case ReasonAlreadyInProgress:
		return "AlreadyInProgress"
	case ReasonRateLimited:
		return "RateLimited"
	default:
		return fmt.Sprintf("Reason(%d)", r)
	}
}

// Outcome is the result of one pairing request.
type Outcome struct {
	Status Status
	Reason Reason

	// Err is the underlying error for failed and rejected outcomes.
	Err error

	// Peer is the trusted peer record on success.
	Peer *keystore.TrustedPeer

	// SessionID identifies the attempt in protocol logs.
	SessionID string

	// Duration is the attempt's wall time.
	Duration time.Duration
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// String formats the outcome as Status or Status(Reason).
func (o Outcome) String() string {
	if o.Status == StatusSucceeded {
		return o.Status.String()
	}
	return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
}

func succeeded(peer keystore.TrustedPeer) Outcome {
	return Outcome{Status: StatusSucceeded, Peer: &peer}
}

func failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Reason: Classify(err), Err: err}
}

func rejected(reason Reason, err error) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, Err: err}
}

// Classify maps an error from a pairing attempt to a Reason.
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, pake.ErrAuthFailed), errors.Is(err, frame.ErrAuthFailed):
		return ReasonAuthFailed
	case errors.Is(err, keystore.ErrStorageFault):
		return ReasonStorageFault
	case isProtocolError(err):
		return ReasonProtocolError
	default:
		return ReasonNetworkError
	}
}

var protocolErrors = []error{
	pake.ErrProtocol,
	pake.ErrEngineFailed,
	pake.ErrInvalidCode,
	frame.ErrDecode,
	frame.ErrFailed,
	transport.ErrBadVersion,
	transport.ErrMessageTooLarge,
	transport.ErrFrameTruncated,
	transport.ErrUnexpectedPacket,
	keystore.ErrInvalidCert,
	keystore.ErrCertExpired,
	keystore.ErrCertNotYetValid,
	keystore.ErrWeakKey,
	ErrInvalidPeerInfo,
	ErrInvalidAddress,
	ErrSessionReused,
}

func isProtocolError(err error) bool {
	for _, target := range protocolErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
