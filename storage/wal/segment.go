package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"mineral/storage"
)

const segmentPrefix = "@wal-"

var (
	// ErrAppendFailed reports a failed durable append; the sequence
	// number consumed for the record is not reused.
	ErrAppendFailed = errors.New("append wal data failed")

	// ErrCorruptSegmentTail reports that the trailing version suffix of
	// a segment could not be read in full.
	ErrCorruptSegmentTail = errors.New("corrupt segment tail")
)

var pagePool = storage.NewBytesPool(pageSize)

// HandleFunc receives one recovered record payload and its version. The
// payload is only valid for the duration of the call. A non-nil return
// stops the scan and is propagated to the caller.
type HandleFunc func(payload []byte, version uint64) error

// Segment owns one physical log file. Exactly one segment of a log is
// writable at a time; size mirrors the bytes known to be durably framed
// and is advanced only after a successful append.
type Segment struct {
	store  storage.Store
	logger log.Logger

	id   uint64
	size uint32
}

func OpenSegment(logger log.Logger, dir string, id uint64) (*Segment, error) {
	store, err := storage.OpenFile(SegmentName(dir, id))

	if err != nil {
		return nil, err
	}

	meta, err := store.Meta()

	if err != nil {
		return nil, err
	}

	return &Segment{
		store:  store,
		logger: logger,
		id:     id,
		size:   uint32(meta.Size),
	}, nil
}

func SegmentName(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", segmentPrefix, id))
}

// listSegmentIDs returns the ids of all segment files under dir in
// ascending order. A missing or empty directory yields the single id 0.
func listSegmentIDs(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)

	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "unable to list segments")
	}

	ids := make([]uint64, 0, len(files))

	for _, file := range files {
		name := file.Name()

		if !strings.HasPrefix(name, segmentPrefix) {
			continue
		}

		id, err := strconv.ParseUint(strings.TrimPrefix(name, segmentPrefix), 10, 64)

		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) == 0 {
		ids = append(ids, 0)
	}

	return ids, nil
}

// Append frames buf into the segment. The input is split so that every
// First/Middle frame ends exactly on a page boundary; a page tail too
// small for a header is zero-filled. All frames of one call go to storage
// in a single append, and the tracked size moves only when it succeeds.
func (s *Segment) Append(buf []byte) error {
	var (
		frames []byte
		size   = s.size
		first  = true
	)

	for {
		left := pageSize - int(size%pageSize)

		if left < frameHeaderSize {
			frames = append(frames, make([]byte, left)...)
			size += uint32(left)
			continue
		}

		if left > len(buf)+frameHeaderSize {
			kind := frameLast
			if first {
				kind = frameFull
			}

			frames = encodeFrame(frames, kind, buf)
			size += uint32(frameHeaderSize + len(buf))
			break
		}

		kind := frameMiddle
		if first {
			kind = frameFirst
		}
		first = false

		fill := left - frameHeaderSize
		frames = encodeFrame(frames, kind, buf[:fill])
		buf = buf[fill:]
		size += uint32(left)
	}

	if _, err := s.store.Append(frames); err != nil {
		return errors.Wrapf(ErrAppendFailed, "segment %d: %v", s.id, err)
	}

	s.size = size

	return nil
}

// ReadAll rescans the whole segment and delivers every intact record to h
// in file order. A torn or corrupt trailing write is not an error: the
// scan stops quietly at the last fully valid frame.
func (s *Segment) ReadAll(h HandleFunc) error {
	pageBuf := pagePool.GetBytes()
	defer pagePool.PutBytes(pageBuf)

	page := (*pageBuf)[0:pageSize]
	scan := &recoveryScan{}

	var pos uint64

	for {
		n, err := s.store.Get(pos, page)

		if err != nil {
			return errors.Wrapf(err, "segment %d: read page at %d", s.id, pos)
		}

		scan.buf = append(scan.buf, page[:n]...)

		done, err := scan.drain(h)

		if done || err != nil {
			return err
		}

		if n < pageSize { // the last page
			return nil
		}

		pos += pageSize
	}
}

// recoveryScan accumulates raw segment bytes and splits out validated
// frames. Anything that fails to parse marks the end of valid data, so a
// torn trailing write stops the scan without an error.
type recoveryScan struct {
	buf     []byte
	record  []byte
	scanned uint64
}

func (sc *recoveryScan) drain(h HandleFunc) (done bool, err error) {
	for {
		boundary := pageSize - int(sc.scanned%pageSize)

		// Frames never start inside the last few bytes of a page;
		// the writer zero-fills such tails.
		if boundary < frameHeaderSize {
			if len(sc.buf) < boundary {
				return true, nil
			}

			sc.consume(boundary)
			continue
		}

		if len(sc.buf) < frameHeaderSize {
			return false, nil
		}

		hdr := parseFrameHeader(sc.buf)

		if !hdr.kind.valid() {
			return true, nil
		}

		frameSize := frameHeaderSize + int(hdr.length)

		if frameSize > len(sc.buf) {
			return false, nil
		}

		payload := sc.buf[frameHeaderSize:frameSize]

		if crc32.ChecksumIEEE(payload) != hdr.checksum {
			return true, nil
		}

		sc.record = append(sc.record, payload...)
		sc.consume(frameSize)

		if !hdr.kind.final() {
			continue
		}

		if len(sc.record) < versionSuffixLen {
			return true, nil
		}

		split := len(sc.record) - versionSuffixLen
		version := binary.LittleEndian.Uint64(sc.record[split:])

		if err := h(sc.record[:split], version); err != nil {
			return true, err
		}

		sc.record = sc.record[:0]
	}
}

func (sc *recoveryScan) consume(n int) {
	sc.buf = sc.buf[n:]
	sc.scanned += uint64(n)
}

// LatestVersion reads the trailing version suffix: the sequence number of
// the most recently committed record.
func (s *Segment) LatestVersion() (uint64, error) {
	var buf [versionSuffixLen]byte

	n, err := s.store.GetFromEnd(-versionSuffixLen, buf[:])

	if err != nil {
		return 0, errors.Wrapf(err, "segment %d: read tail version", s.id)
	}

	if n != versionSuffixLen {
		return 0, errors.Wrapf(ErrCorruptSegmentTail, "segment %d: got %d tail bytes", s.id, n)
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Close flushes the segment to stable storage before releasing the handle.
func (s *Segment) Close() error {
	if err := s.store.Sync(); err != nil {
		return errors.Wrapf(err, "sync segment %d", s.id)
	}

	return s.store.Close()
}

func (s *Segment) Delete() error {
	return errors.Wrapf(s.store.Remove(), "delete segment %d", s.id)
}

func (s *Segment) ID() uint64 {
	return s.id
}

func (s *Segment) Size() uint32 {
	return s.size
}

func (s *Segment) Empty() bool {
	return s.size == 0
}
