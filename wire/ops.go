package wire

import "encoding/binary"

// The simple object RPCs below are the non-transactional path. They share
// the request envelope (opcode first) and report a leading status in the
// response like the transaction RPCs.

// ReadReq fetches one object.
// Wire layout: opcode u32, tableId u64, keyLength u16, key bytes.
type ReadReq struct {
	TableID uint64
	Key     []byte
}

// MarshalBinary serializes the request, including the leading opcode.
func (r *ReadReq) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(OpRead))
	b = binary.LittleEndian.AppendUint64(b, r.TableID)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(r.Key)))
	return append(b, r.Key...)
}

// ParseReadReq deserializes a read request payload.
func ParseReadReq(b []byte) (*ReadReq, error) {
	if len(b) < 10 {
		return nil, errShortBuffer("read request")
	}
	r := &ReadReq{TableID: binary.LittleEndian.Uint64(b)}
	keyLen := int(binary.LittleEndian.Uint16(b[8:]))
	b = b[10:]
	if len(b) < keyLen {
		return nil, errShortBuffer("read key")
	}
	r.Key = b[:keyLen]
	return r, nil
}

// ReadResp returns the object value and its version.
// Wire layout: status u32, version u64, valueLength u32, value bytes.
type ReadResp struct {
	Status  Status
	Version uint64
	Value   []byte
}

// MarshalBinary serializes the response.
func (r *ReadResp) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(r.Status))
	b = binary.LittleEndian.AppendUint64(b, r.Version)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Value)))
	return append(b, r.Value...)
}

// ParseReadResp deserializes a read response. Responses with a non-OK
// status may carry only the status field.
func ParseReadResp(b []byte) (*ReadResp, error) {
	if len(b) < 4 {
		return nil, errShortBuffer("read response")
	}
	r := &ReadResp{Status: Status(binary.LittleEndian.Uint32(b))}
	if r.Status != StatusOK {
		return r, nil
	}
	if len(b) < 16 {
		return nil, errShortBuffer("read response")
	}
	r.Version = binary.LittleEndian.Uint64(b[4:])
	valueLen := int(binary.LittleEndian.Uint32(b[12:]))
	b = b[16:]
	if len(b) < valueLen {
		return nil, errShortBuffer("read value")
	}
	r.Value = b[:valueLen]
	return r, nil
}

// WriteReq stores one object, subject to reject rules.
// Wire layout: opcode u32, tableId u64, keyLength u16, valueLength u32,
// rejectRules, key bytes, value bytes.
type WriteReq struct {
	TableID     uint64
	RejectRules RejectRules
	Key         []byte
	Value       []byte
}

// MarshalBinary serializes the request, including the leading opcode.
func (r *WriteReq) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(OpWrite))
	b = binary.LittleEndian.AppendUint64(b, r.TableID)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(r.Key)))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Value)))
	b = r.RejectRules.appendTo(b)
	b = append(b, r.Key...)
	return append(b, r.Value...)
}

// ParseWriteReq deserializes a write request payload.
func ParseWriteReq(b []byte) (*WriteReq, error) {
	if len(b) < 14 {
		return nil, errShortBuffer("write request")
	}
	r := &WriteReq{TableID: binary.LittleEndian.Uint64(b)}
	keyLen := int(binary.LittleEndian.Uint16(b[8:]))
	valueLen := int(binary.LittleEndian.Uint32(b[10:]))
	b = b[14:]
	var err error
	if r.RejectRules, b, err = parseRejectRules(b); err != nil {
		return nil, err
	}
	if len(b) < keyLen+valueLen {
		return nil, errShortBuffer("write payload")
	}
	r.Key = b[:keyLen]
	r.Value = b[keyLen : keyLen+valueLen]
	return r, nil
}

// WriteResp acknowledges a write with the new object version.
// Wire layout: status u32, version u64.
type WriteResp struct {
	Status  Status
	Version uint64
}

// MarshalBinary serializes the response.
func (r *WriteResp) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(r.Status))
	return binary.LittleEndian.AppendUint64(b, r.Version)
}

// ParseWriteResp deserializes a write response.
func ParseWriteResp(b []byte) (*WriteResp, error) {
	if len(b) < 4 {
		return nil, errShortBuffer("write response")
	}
	r := &WriteResp{Status: Status(binary.LittleEndian.Uint32(b))}
	if r.Status == StatusOK {
		if len(b) < 12 {
			return nil, errShortBuffer("write response")
		}
		r.Version = binary.LittleEndian.Uint64(b[4:])
	}
	return r, nil
}

// RemoveReq deletes one object, subject to reject rules.
// Wire layout: opcode u32, tableId u64, keyLength u16, rejectRules,
// key bytes.
type RemoveReq struct {
	TableID     uint64
	RejectRules RejectRules
	Key         []byte
}

// MarshalBinary serializes the request, including the leading opcode.
func (r *RemoveReq) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(OpRemove))
	b = binary.LittleEndian.AppendUint64(b, r.TableID)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(r.Key)))
	b = r.RejectRules.appendTo(b)
	return append(b, r.Key...)
}

// ParseRemoveReq deserializes a remove request payload.
func ParseRemoveReq(b []byte) (*RemoveReq, error) {
	if len(b) < 10 {
		return nil, errShortBuffer("remove request")
	}
	r := &RemoveReq{TableID: binary.LittleEndian.Uint64(b)}
	keyLen := int(binary.LittleEndian.Uint16(b[8:]))
	b = b[10:]
	var err error
	if r.RejectRules, b, err = parseRejectRules(b); err != nil {
		return nil, err
	}
	if len(b) < keyLen {
		return nil, errShortBuffer("remove key")
	}
	r.Key = b[:keyLen]
	return r, nil
}

// RemoveResp acknowledges a remove with the removed object's version.
// Wire layout: status u32, version u64.
type RemoveResp struct {
	Status  Status
	Version uint64
}

// MarshalBinary serializes the response.
func (r *RemoveResp) MarshalBinary() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(r.Status))
	return binary.LittleEndian.AppendUint64(b, r.Version)
}

// ParseRemoveResp deserializes a remove response.
func ParseRemoveResp(b []byte) (*RemoveResp, error) {
	if len(b) < 4 {
		return nil, errShortBuffer("remove response")
	}
	r := &RemoveResp{Status: Status(binary.LittleEndian.Uint32(b))}
	if r.Status == StatusOK {
		if len(b) < 12 {
			return nil, errShortBuffer("remove response")
		}
		r.Version = binary.LittleEndian.Uint64(b[4:])
	}
	return r, nil
}
