// Package ledger is the crank's view of the remote ledger program: a fixed
// set of read queries and signed write instructions, with failures reported
// as structured errors.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"epoch-crank/internal/models"
)

// TxID identifies a submitted transaction. It is opaque to the crank.
type TxID string

// Ledger is the remote state machine holding rounds and proposals.
type Ledger interface {
	Rounds(ctx context.Context) ([]models.Round, error)
	Proposals(ctx context.Context, roundID uint64) ([]models.Proposal, error)
	CloseRound(ctx context.Context, roundID uint64) (TxID, error)
	SetProposalStatus(ctx context.Context, roundID uint64, proposalID string, status models.ProposalStatus) (TxID, error)
	MarkRoundProcessed(ctx context.Context, roundID uint64) (TxID, error)
	OpenRound(ctx context.Context, roundID uint64, start, end int64) (TxID, error)
	// Authority returns the identity the ledger accepts as admin signer.
	Authority(ctx context.Context) (string, error)
}

// Code classifies a ledger failure.
type Code int

const (
	CodeUnknown Code = iota
	// CodeRateLimited means the backend throttled the request. It is the
	// only transient class.
	CodeRateLimited
	// CodeUnavailable covers transport failures: connection refused,
	// timeouts, malformed RPC responses.
	CodeUnavailable
	// CodeRejected means the ledger refused the state transition.
	CodeRejected
	// CodeDecode means a query answered with a value the crank cannot read.
	CodeDecode
)

func (c Code) String() string {
	switch c {
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeRejected:
		return "rejected"
	case CodeDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Program error codes returned by the ledger program in the result code of
// a query or transaction.
const (
	ProgramEpochNotActive           uint32 = 6007
	ProgramInvalidAuthority         uint32 = 6009
	ProgramInvalidEpochTimeRange    uint32 = 6010
	ProgramEpochNotFound            uint32 = 6011
	ProgramInvalidEpochID           uint32 = 6013
	ProgramEpochAlreadyInactive     uint32 = 6014
	ProgramEpochNotClosed           uint32 = 6018
	ProgramProposalNotInEpoch       uint32 = 6019
	ProgramInvalidStatusUpdate      uint32 = 6020
	ProgramProposalAlreadyFinalized uint32 = 6021
	ProgramEpochAlreadyProcessed    uint32 = 6022
	ProgramUnauthorized             uint32 = 6023

	// ProgramTooManyRequests is the code the backend answers with when it
	// throttles a signer.
	ProgramTooManyRequests uint32 = 429
)

var programMessages = map[uint32]string{
	ProgramEpochNotActive:           "epoch is not active",
	ProgramInvalidAuthority:         "only the admin authority can perform this action",
	ProgramInvalidEpochTimeRange:    "invalid epoch time range",
	ProgramEpochNotFound:            "epoch not found",
	ProgramInvalidEpochID:           "invalid epoch id",
	ProgramEpochAlreadyInactive:     "epoch is already inactive",
	ProgramEpochNotClosed:           "epoch must be closed to perform this action",
	ProgramProposalNotInEpoch:       "proposal does not belong to the epoch",
	ProgramInvalidStatusUpdate:      "invalid proposal status update",
	ProgramProposalAlreadyFinalized: "proposal already has a final status",
	ProgramEpochAlreadyProcessed:    "epoch has already been processed",
	ProgramUnauthorized:             "unauthorized",
	ProgramTooManyRequests:          "too many requests",
}

// ErrNoSigner is returned by write operations on a read-only client.
var ErrNoSigner = errors.New("ledger: no authority credential configured")

// Error is the structured failure of one remote operation.
type Error struct {
	Op          string
	Code        Code
	ProgramCode uint32 // set when the ledger answered with a result code
	Log         string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger %s: %s", e.Op, e.Code)
	if e.ProgramCode != 0 {
		if text, ok := programMessages[e.ProgramCode]; ok {
			msg += fmt.Sprintf(" (code %d: %s)", e.ProgramCode, text)
		} else {
			msg += fmt.Sprintf(" (code %d)", e.ProgramCode)
		}
	}
	if e.Log != "" {
		msg += ": " + e.Log
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the classification of err, or CodeUnknown when err did
// not come from a ledger operation.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeUnknown
}

// IsRateLimited reports whether err is a backend throttling rejection.
func IsRateLimited(err error) bool {
	return CodeOf(err) == CodeRateLimited
}

// ProgramCodeOf returns the ledger program code carried by err, if any.
func ProgramCodeOf(err error) (uint32, bool) {
	var le *Error
	if errors.As(err, &le) && le.ProgramCode != 0 {
		return le.ProgramCode, true
	}
	return 0, false
}

// resultError maps a non-zero result code to an Error.
func resultError(op string, code uint32, log string) *Error {
	c := CodeRejected
	if code == ProgramTooManyRequests {
		c = CodeRateLimited
	}
	return &Error{Op: op, Code: c, ProgramCode: code, Log: log}
}
