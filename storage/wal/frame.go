package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	pageSize        = 32 * 1024 // 32KB
	frameHeaderSize = 7
)

// ErrInvalidFrameData reports a frame whose payload does not match its
// stored checksum.
var ErrInvalidFrameData = errors.New("invalid wal frame data")

// frameKind codes as persisted on disk. Zero is reserved for page padding:
// a page tail too small to hold a header is zero-filled by the writer.
type frameKind uint8

const (
	framePadding frameKind = 0
	frameFirst   frameKind = 1
	frameMiddle  frameKind = 2
	frameLast    frameKind = 3
	frameFull    frameKind = 4
)

func (k frameKind) valid() bool {
	return k >= frameFirst && k <= frameFull
}

// final reports whether the frame completes a logical record.
func (k frameKind) final() bool {
	return k == frameFull || k == frameLast
}

type frameHeader struct {
	checksum uint32
	length   uint16
	kind     frameKind
}

// frame layout:
//
//	   4          2       1      n
//	+-------+----------+------+---------+
//	| crc32 | data_len | kind | payload |
//	+-------+----------+------+---------+
func encodeFrame(dst []byte, kind frameKind, payload []byte) []byte {
	var hdr [frameHeaderSize]byte

	binary.BigEndian.PutUint32(hdr[0:4], crc32.ChecksumIEEE(payload))
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(payload)))
	hdr[6] = byte(kind)

	dst = append(dst, hdr[:]...)

	return append(dst, payload...)
}

func parseFrameHeader(buf []byte) frameHeader {
	return frameHeader{
		checksum: binary.BigEndian.Uint32(buf[0:4]),
		length:   binary.BigEndian.Uint16(buf[4:6]),
		kind:     frameKind(buf[6]),
	}
}

// decodeFrame parses a single frame from the head of buf and validates its
// checksum.
func decodeFrame(buf []byte) (frameHeader, []byte, error) {
	if len(buf) < frameHeaderSize {
		return frameHeader{}, nil, errors.Wrap(ErrInvalidFrameData, "short frame header")
	}

	hdr := parseFrameHeader(buf)
	end := frameHeaderSize + int(hdr.length)

	if len(buf) < end {
		return frameHeader{}, nil, errors.Wrapf(ErrInvalidFrameData, "frame needs %d bytes, have %d", end, len(buf))
	}

	payload := buf[frameHeaderSize:end]

	if crc32.ChecksumIEEE(payload) != hdr.checksum {
		return frameHeader{}, nil, errors.Wrapf(ErrInvalidFrameData, "checksum mismatch, stored %d", hdr.checksum)
	}

	return hdr, payload, nil
}
