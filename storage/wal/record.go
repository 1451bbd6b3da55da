package wal

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Record opcodes.
const (
	OpAdd    uint8 = 1
	OpUpdate uint8 = 2
	OpClean  uint8 = 3
)

const (
	recordHeaderLen  = 5 // op(1) + offset(4)
	versionSuffixLen = 8
)

var ErrShortRecord = errors.New("record payload too short")

// Record is one logical mutation. Version is assigned by the log at append
// time and stays zero until then.
//
//	   1      4      n        8
//	+----+--------+------+---------+
//	| op | offset | data | version |
//	+----+--------+------+---------+
type Record struct {
	Op      uint8
	Offset  uint32
	Data    []byte
	Version uint64
}

// Encode produces the caller-supplied part of the wire form: everything
// but the version suffix.
func (r *Record) Encode() []byte {
	buf := make([]byte, recordHeaderLen, recordHeaderLen+len(r.Data))
	buf[0] = r.Op
	binary.LittleEndian.PutUint32(buf[1:5], r.Offset)

	return append(buf, r.Data...)
}

// DecodeRecord rebuilds a Record from a payload delivered by a range read.
func DecodeRecord(payload []byte, version uint64) (Record, error) {
	if len(payload) < recordHeaderLen {
		return Record{}, errors.Wrapf(ErrShortRecord, "%d bytes", len(payload))
	}

	return Record{
		Op:      payload[0],
		Offset:  binary.LittleEndian.Uint32(payload[1:5]),
		Data:    payload[recordHeaderLen:],
		Version: version,
	}, nil
}
