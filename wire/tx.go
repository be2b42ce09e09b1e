package wire

import (
	"encoding/binary"
	"fmt"
)

// TxOpType tags each op record inside a TxPrepare request.
type TxOpType uint32

const (
	TxOpInvalid TxOpType = iota
	TxOpRead
	TxOpRemove
	TxOpWrite
)

// TxParticipant names one participant slot of a transaction.
// Wire layout: tableId u64, keyHash u64, rpcId u64.
type TxParticipant struct {
	TableID uint64
	KeyHash uint64
	RpcID   uint64
}

const txParticipantLen = 24

func (p *TxParticipant) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, p.TableID)
	b = binary.LittleEndian.AppendUint64(b, p.KeyHash)
	return binary.LittleEndian.AppendUint64(b, p.RpcID)
}

func parseTxParticipant(b []byte) (TxParticipant, []byte, error) {
	if len(b) < txParticipantLen {
		return TxParticipant{}, nil, errShortBuffer("participant")
	}
	p := TxParticipant{
		TableID: binary.LittleEndian.Uint64(b),
		KeyHash: binary.LittleEndian.Uint64(b[8:]),
		RpcID:   binary.LittleEndian.Uint64(b[16:]),
	}
	return p, b[txParticipantLen:], nil
}

// TxPrepareOp is one op record of a prepare request. For read and remove
// ops the payload is the key bytes; for writes it is the full serialized
// object (key and value).
type TxPrepareOp struct {
	Type        TxOpType
	TableID     uint64
	RpcID       uint64
	RejectRules RejectRules
	Payload     []byte
}

// TxPrepareReq asks a master to prepare (lock and vote on) a batch of ops.
// Every prepare carries the full participant list so any master can take
// over recovery of the transaction.
//
// Wire layout: opcode u32, lease, participantCount u32, opCount u32,
// ackId u64, participant tuples, op records. Read/remove records are
// opType u32, tableId u64, rpcId u64, keyLength u16, rejectRules, key;
// write records are opType u32, tableId u64, rpcId u64, objectLength u32,
// rejectRules, object bytes.
type TxPrepareReq struct {
	Lease            Lease
	ParticipantCount uint32
	AckID            uint64
	Participants     []TxParticipant
	Ops              []TxPrepareOp
}

// MarshalBinary serializes the request, including the leading opcode.
func (r *TxPrepareReq) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(OpTxPrepare))
	b = r.Lease.appendTo(b)
	b = binary.LittleEndian.AppendUint32(b, r.ParticipantCount)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Ops)))
	b = binary.LittleEndian.AppendUint64(b, r.AckID)
	for i := range r.Participants {
		b = r.Participants[i].appendTo(b)
	}
	for i := range r.Ops {
		op := &r.Ops[i]
		b = binary.LittleEndian.AppendUint32(b, uint32(op.Type))
		b = binary.LittleEndian.AppendUint64(b, op.TableID)
		b = binary.LittleEndian.AppendUint64(b, op.RpcID)
		switch op.Type {
		case TxOpWrite:
			b = binary.LittleEndian.AppendUint32(b, uint32(len(op.Payload)))
		default:
			b = binary.LittleEndian.AppendUint16(b, uint16(len(op.Payload)))
		}
		b = op.RejectRules.appendTo(b)
		b = append(b, op.Payload...)
	}
	return b
}

// ParseTxPrepareReq deserializes a prepare request payload (after the
// opcode has been stripped).
func ParseTxPrepareReq(b []byte) (*TxPrepareReq, error) {
	r := &TxPrepareReq{}
	var err error
	if r.Lease, b, err = parseLease(b); err != nil {
		return nil, err
	}
	if len(b) < 16 {
		return nil, errShortBuffer("prepare header")
	}
	r.ParticipantCount = binary.LittleEndian.Uint32(b)
	opCount := binary.LittleEndian.Uint32(b[4:])
	r.AckID = binary.LittleEndian.Uint64(b[8:])
	b = b[16:]
	for i := uint32(0); i < r.ParticipantCount; i++ {
		var p TxParticipant
		if p, b, err = parseTxParticipant(b); err != nil {
			return nil, err
		}
		r.Participants = append(r.Participants, p)
	}
	for i := uint32(0); i < opCount; i++ {
		if len(b) < 20 {
			return nil, errShortBuffer("prepare op")
		}
		op := TxPrepareOp{
			Type:    TxOpType(binary.LittleEndian.Uint32(b)),
			TableID: binary.LittleEndian.Uint64(b[4:]),
			RpcID:   binary.LittleEndian.Uint64(b[12:]),
		}
		b = b[20:]
		var payloadLen int
		switch op.Type {
		case TxOpWrite:
			if len(b) < 4 {
				return nil, errShortBuffer("prepare op length")
			}
			payloadLen = int(binary.LittleEndian.Uint32(b))
			b = b[4:]
		case TxOpRead, TxOpRemove:
			if len(b) < 2 {
				return nil, errShortBuffer("prepare op length")
			}
			payloadLen = int(binary.LittleEndian.Uint16(b))
			b = b[2:]
		default:
			return nil, fmt.Errorf("wire: unknown prepare op type %d", op.Type)
		}
		if op.RejectRules, b, err = parseRejectRules(b); err != nil {
			return nil, err
		}
		if len(b) < payloadLen {
			return nil, errShortBuffer("prepare op payload")
		}
		op.Payload = b[:payloadLen]
		b = b[payloadLen:]
		r.Ops = append(r.Ops, op)
	}
	return r, nil
}

// TxPrepareResp is a master's answer to a prepare.
// Wire layout: status u32, vote u32.
type TxPrepareResp struct {
	Status Status
	Vote   Vote
}

// MarshalBinary serializes the response.
func (r *TxPrepareResp) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(r.Status))
	return binary.LittleEndian.AppendUint32(b, uint32(r.Vote))
}

// ParseTxPrepareResp deserializes a prepare response. Responses carrying
// a non-OK status may omit the vote.
func ParseTxPrepareResp(b []byte) (*TxPrepareResp, error) {
	if len(b) < 4 {
		return nil, errShortBuffer("prepare response")
	}
	r := &TxPrepareResp{Status: Status(binary.LittleEndian.Uint32(b))}
	if len(b) >= 8 {
		r.Vote = Vote(binary.LittleEndian.Uint32(b[4:]))
	}
	return r, nil
}

// TxDecisionReq tells a master the final outcome for a batch of
// participants it prepared.
// Wire layout: opcode u32, decision u32, leaseId u64,
// participantCount u32, participant tuples.
type TxDecisionReq struct {
	Decision     Decision
	LeaseID      uint64
	Participants []TxParticipant
}

// MarshalBinary serializes the request, including the leading opcode.
func (r *TxDecisionReq) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(OpTxDecision))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Decision))
	b = binary.LittleEndian.AppendUint64(b, r.LeaseID)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Participants)))
	for i := range r.Participants {
		b = r.Participants[i].appendTo(b)
	}
	return b
}

// ParseTxDecisionReq deserializes a decision request payload (after the
// opcode has been stripped).
func ParseTxDecisionReq(b []byte) (*TxDecisionReq, error) {
	if len(b) < 16 {
		return nil, errShortBuffer("decision header")
	}
	r := &TxDecisionReq{
		Decision: Decision(binary.LittleEndian.Uint32(b)),
		LeaseID:  binary.LittleEndian.Uint64(b[4:]),
	}
	count := binary.LittleEndian.Uint32(b[12:])
	b = b[16:]
	var err error
	for i := uint32(0); i < count; i++ {
		var p TxParticipant
		if p, b, err = parseTxParticipant(b); err != nil {
			return nil, err
		}
		r.Participants = append(r.Participants, p)
	}
	return r, nil
}

// TxDecisionResp is a master's acknowledgement of a decision.
// Wire layout: status u32.
type TxDecisionResp struct {
	Status Status
}

// MarshalBinary serializes the response.
func (r *TxDecisionResp) MarshalBinary() []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(r.Status))
}

// ParseTxDecisionResp deserializes a decision response.
func ParseTxDecisionResp(b []byte) (*TxDecisionResp, error) {
	if len(b) < 4 {
		return nil, errShortBuffer("decision response")
	}
	return &TxDecisionResp{Status: Status(binary.LittleEndian.Uint32(b))}, nil
}
