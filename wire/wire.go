// Package wire defines the on-the-wire contracts between the transaction
// client and the storage masters. All multi-byte fields are little-endian
// and layouts are fixed; masters and clients of any version agree on these
// bytes exactly.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Status is the result code a master reports in every RPC response.
type Status uint32

const (
	StatusOK Status = iota
	// StatusUnknownTablet means the master no longer owns the tablet the
	// request was routed to. The client refreshes its tablet map and retries.
	StatusUnknownTablet
	StatusTableDoesntExist
	StatusObjectDoesntExist
	StatusWrongVersion
	StatusRetry
	StatusInternalError
	StatusResponseFormatError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "STATUS_OK"
	case StatusUnknownTablet:
		return "STATUS_UNKNOWN_TABLET"
	case StatusTableDoesntExist:
		return "STATUS_TABLE_DOESNT_EXIST"
	case StatusObjectDoesntExist:
		return "STATUS_OBJECT_DOESNT_EXIST"
	case StatusWrongVersion:
		return "STATUS_WRONG_VERSION"
	case StatusRetry:
		return "STATUS_RETRY"
	case StatusInternalError:
		return "STATUS_INTERNAL_ERROR"
	case StatusResponseFormatError:
		return "STATUS_RESPONSE_FORMAT_ERROR"
	}
	return fmt.Sprintf("STATUS(%d)", uint32(s))
}

// StatusError carries a non-OK status across error returns. It is the
// client-side rendition of a fatal server-reported condition.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return e.Status.String()
}

// NewStatusError wraps status into an error.
func NewStatusError(status Status) error {
	return &StatusError{Status: status}
}

// StatusOf extracts the status carried by err. Errors that do not carry
// one report STATUS_INTERNAL_ERROR.
func StatusOf(err error) Status {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusInternalError
}

// Decision is the outcome of a transaction, carried in TxDecision requests.
type Decision uint32

const (
	DecisionInvalid Decision = iota
	DecisionCommit
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionInvalid:
		return "INVALID"
	case DecisionCommit:
		return "COMMIT"
	case DecisionAbort:
		return "ABORT"
	}
	return fmt.Sprintf("DECISION(%d)", uint32(d))
}

// Vote is a master's per-prepare verdict.
type Vote uint32

const (
	VoteInvalid Vote = iota
	VoteCommit
	VoteAbort
)

func (v Vote) String() string {
	switch v {
	case VoteInvalid:
		return "INVALID"
	case VoteCommit:
		return "COMMIT"
	case VoteAbort:
		return "ABORT"
	}
	return fmt.Sprintf("VOTE(%d)", uint32(v))
}

// Opcode selects the operation a request frame carries. It is the first
// field of every request.
type Opcode uint32

const (
	OpInvalid Opcode = iota
	OpRead
	OpWrite
	OpRemove
	OpTxPrepare
	OpTxDecision
)

// Lease identifies a live client to the masters. Servers use the leaseId
// to fence transactions of clients whose lease has expired.
// Wire layout: leaseId u64, expiration u64, timestamp u64.
type Lease struct {
	LeaseID    uint64
	Expiration uint64
	Timestamp  uint64
}

const leaseLen = 24

func (l *Lease) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, l.LeaseID)
	b = binary.LittleEndian.AppendUint64(b, l.Expiration)
	return binary.LittleEndian.AppendUint64(b, l.Timestamp)
}

func parseLease(b []byte) (Lease, []byte, error) {
	if len(b) < leaseLen {
		return Lease{}, nil, errShortBuffer("lease")
	}
	l := Lease{
		LeaseID:    binary.LittleEndian.Uint64(b),
		Expiration: binary.LittleEndian.Uint64(b[8:]),
		Timestamp:  binary.LittleEndian.Uint64(b[16:]),
	}
	return l, b[leaseLen:], nil
}

// RejectRules is a server-side precondition attached to an operation.
// A prepare whose rules fire votes ABORT.
// Wire layout: givenVersion u64, then one byte per flag, then 4 pad bytes.
type RejectRules struct {
	GivenVersion   uint64
	DoesntExist    bool
	Exists         bool
	VersionLeGiven bool
	VersionNeGiven bool
}

const rejectRulesLen = 16

func (r *RejectRules) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, r.GivenVersion)
	b = append(b, boolByte(r.DoesntExist), boolByte(r.Exists),
		boolByte(r.VersionLeGiven), boolByte(r.VersionNeGiven))
	return append(b, 0, 0, 0, 0)
}

func parseRejectRules(b []byte) (RejectRules, []byte, error) {
	if len(b) < rejectRulesLen {
		return RejectRules{}, nil, errShortBuffer("reject rules")
	}
	r := RejectRules{
		GivenVersion:   binary.LittleEndian.Uint64(b),
		DoesntExist:    b[8] != 0,
		Exists:         b[9] != 0,
		VersionLeGiven: b[10] != 0,
		VersionNeGiven: b[11] != 0,
	}
	return r, b[rejectRulesLen:], nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func errShortBuffer(what string) error {
	return fmt.Errorf("wire: buffer too short for %s", what)
}

// ParseOpcode splits a request frame into its opcode and payload.
func ParseOpcode(b []byte) (Opcode, []byte, error) {
	if len(b) < 4 {
		return OpInvalid, nil, errShortBuffer("opcode")
	}
	return Opcode(binary.LittleEndian.Uint32(b)), b[4:], nil
}

// ResponseStatus reads the leading status field of a response frame.
func ResponseStatus(b []byte) (Status, error) {
	if len(b) < 4 {
		return StatusResponseFormatError, errShortBuffer("response status")
	}
	return Status(binary.LittleEndian.Uint32(b)), nil
}
