package wal

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mineral/storage"
)

func testSegment(t *testing.T, id uint64) (*Segment, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "wal_segment_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := OpenSegment(log.NewNopLogger(), dir, id)
	require.NoError(t, err)

	return s, dir
}

// suffixed returns buf with the version appended the way the log does
// before delegating to a segment.
func suffixed(buf []byte, version uint64) []byte {
	out := append([]byte{}, buf...)
	return binary.LittleEndian.AppendUint64(out, version)
}

func readRecords(t *testing.T, s *Segment) ([][]byte, []uint64) {
	t.Helper()

	var payloads [][]byte
	var versions []uint64

	err := s.ReadAll(func(payload []byte, version uint64) error {
		payloads = append(payloads, append([]byte{}, payload...))
		versions = append(versions, version)
		return nil
	})
	require.NoError(t, err)

	return payloads, versions
}

func TestSegmentAppendReadSmallRecord(t *testing.T) {
	s, _ := testSegment(t, 0)

	payload := []byte("one small record")
	require.NoError(t, s.Append(suffixed(payload, 1)))

	payloads, versions := readRecords(t, s)
	require.Len(t, payloads, 1)
	assert.Equal(t, payload, payloads[0])
	assert.Equal(t, []uint64{1}, versions)
}

func TestSegmentFragmentationAcrossPages(t *testing.T) {
	s, _ := testSegment(t, 0)

	big := bytes.Repeat([]byte{7}, pageSize*2+1234)
	require.NoError(t, s.Append(suffixed(big, 9)))

	payloads, versions := readRecords(t, s)
	require.Len(t, payloads, 1)
	assert.Equal(t, big, payloads[0])
	assert.Equal(t, []uint64{9}, versions)
}

func TestSegmentFragmentAlignment(t *testing.T) {
	s, dir := testSegment(t, 0)

	big := bytes.Repeat([]byte{5}, pageSize+100)
	require.NoError(t, s.Append(suffixed(big, 1)))

	raw, err := os.ReadFile(SegmentName(dir, 0))
	require.NoError(t, err)

	pos := 0
	var kinds []frameKind

	for pos+frameHeaderSize <= len(raw) {
		hdr := parseFrameHeader(raw[pos:])
		require.True(t, hdr.kind.valid())

		pos += frameHeaderSize + int(hdr.length)
		kinds = append(kinds, hdr.kind)

		if !hdr.kind.final() {
			assert.Zero(t, pos%pageSize, "non-final fragments must end on a page boundary")
		}
	}

	assert.Equal(t, []frameKind{frameFirst, frameLast}, kinds)
	assert.Equal(t, len(raw), pos)
}

func TestSegmentMultipleRecords(t *testing.T) {
	s, _ := testSegment(t, 0)

	var want [][]byte

	for i := 1; i <= 25; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, i*17)
		want = append(want, payload)
		require.NoError(t, s.Append(suffixed(payload, uint64(i))))
	}

	payloads, versions := readRecords(t, s)
	require.Len(t, payloads, 25)

	for i, payload := range payloads {
		assert.Equal(t, want[i], payload)
		assert.Equal(t, uint64(i+1), versions[i])
	}
}

func TestSegmentPadsShortPageTail(t *testing.T) {
	s, dir := testSegment(t, 0)

	// frame overhead + version suffix put the first record 3 bytes
	// short of a full page
	first := bytes.Repeat([]byte{1}, pageSize-18)
	require.NoError(t, s.Append(suffixed(first, 1)))
	require.Equal(t, uint32(pageSize-3), s.Size())

	second := []byte("lands on the next page")
	require.NoError(t, s.Append(suffixed(second, 2)))

	raw, err := os.ReadFile(SegmentName(dir, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, raw[pageSize-3:pageSize])

	payloads, versions := readRecords(t, s)
	require.Len(t, payloads, 2)
	assert.Equal(t, first, payloads[0])
	assert.Equal(t, second, payloads[1])
	assert.Equal(t, []uint64{1, 2}, versions)
}

func TestSegmentTornWriteTolerated(t *testing.T) {
	s, dir := testSegment(t, 0)

	first := []byte("first, intact record")
	second := bytes.Repeat([]byte{8}, 500)
	require.NoError(t, s.Append(suffixed(first, 1)))
	require.NoError(t, s.Append(suffixed(second, 2)))
	require.NoError(t, s.Close())

	// Chop the file mid-frame, as a crash during the second append
	// would.
	name := SegmentName(dir, 0)
	info, err := os.Stat(name)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(name, info.Size()-100))

	reopened, err := OpenSegment(log.NewNopLogger(), dir, 0)
	require.NoError(t, err)

	payloads, versions := readRecords(t, reopened)
	require.Len(t, payloads, 1)
	assert.Equal(t, first, payloads[0])
	assert.Equal(t, []uint64{1}, versions)
}

func TestSegmentCorruptFrameStopsScan(t *testing.T) {
	s, dir := testSegment(t, 0)

	require.NoError(t, s.Append(suffixed([]byte("good record"), 1)))
	require.NoError(t, s.Append(suffixed([]byte("to be corrupted"), 2)))
	require.NoError(t, s.Append(suffixed([]byte("unreachable after corruption"), 3)))
	require.NoError(t, s.Close())

	f, err := os.OpenFile(SegmentName(dir, 0), os.O_WRONLY, 0)
	require.NoError(t, err)

	// stomp the second frame's checksum
	firstLen := frameHeaderSize + len("good record") + versionSuffixLen
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, int64(firstLen))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenSegment(log.NewNopLogger(), dir, 0)
	require.NoError(t, err)

	payloads, _ := readRecords(t, reopened)
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte("good record"), payloads[0])
}

func TestSegmentReadAllHandlerStops(t *testing.T) {
	s, _ := testSegment(t, 0)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(suffixed([]byte{byte(i)}, uint64(i))))
	}

	stop := errors.New("stop")
	seen := 0

	err := s.ReadAll(func(payload []byte, version uint64) error {
		seen++
		if version == 3 {
			return stop
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, stop))
	assert.Equal(t, 3, seen)
}

func TestSegmentLatestVersion(t *testing.T) {
	s, _ := testSegment(t, 0)

	require.NoError(t, s.Append(suffixed([]byte("a"), 1)))
	require.NoError(t, s.Append(suffixed([]byte("b"), 2)))

	v, err := s.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestSegmentLatestVersionShortTail(t *testing.T) {
	s, dir := testSegment(t, 0)
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(SegmentName(dir, 0), []byte{1, 2, 3}, 0o666))

	reopened, err := OpenSegment(log.NewNopLogger(), dir, 0)
	require.NoError(t, err)

	_, err = reopened.LatestVersion()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptSegmentTail))
}

func TestSegmentDelete(t *testing.T) {
	s, dir := testSegment(t, 4)

	require.NoError(t, s.Append(suffixed([]byte("doomed"), 5)))
	require.NoError(t, s.Delete())

	_, err := os.Stat(SegmentName(dir, 4))
	assert.True(t, os.IsNotExist(err))
}

type failingStore struct {
	storage.Store
	err error
}

func (f *failingStore) Append(p []byte) (int, error) {
	return 0, f.err
}

func TestSegmentAppendFailureKeepsSize(t *testing.T) {
	s, _ := testSegment(t, 0)

	require.NoError(t, s.Append(suffixed([]byte("ok"), 1)))
	before := s.Size()

	s.store = &failingStore{Store: s.store, err: errors.New("disk full")}

	err := s.Append(suffixed([]byte("fails"), 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAppendFailed))
	assert.Equal(t, before, s.Size())
}
