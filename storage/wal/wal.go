package wal

import (
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"mineral/config"
)

// Wal persists intended mutations before they reach primary state. It owns
// the ordered set of segment files under one directory, the monotonic
// sequence counter, and the rotation policy. The sequence never repeats a
// committed value across restarts; gaps after a failed append are fine.
//
// Writes are serialized by the lock; range reads share it.
type Wal struct {
	logger  log.Logger
	dir     string
	opts    config.WALOptions
	metrics *WalMetrics

	mtx        sync.RWMutex
	seq        atomic.Uint64
	active     *Segment
	segmentIDs []uint64
	rotatedAt  time.Time
}

func Open(logger log.Logger, registerer prometheus.Registerer, dir string, opts config.WALOptions) (*Wal, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, errors.Wrap(err, "create wal dir")
	}

	if registerer != nil {
		registerer = prometheus.WrapRegistererWithPrefix("storage_wal_", registerer)
	}

	w := &Wal{
		logger:  logger,
		dir:     dir,
		opts:    opts,
		metrics: NewWalMetrics(registerer),
	}

	if err := w.load(); err != nil {
		return nil, err
	}

	return w, nil
}

// load rebuilds the in-memory state from the segment files on disk.
func (w *Wal) load() error {
	ids, err := listSegmentIDs(w.dir)

	if err != nil {
		return err
	}

	active, err := OpenSegment(w.logger, w.dir, ids[len(ids)-1])

	if err != nil {
		return err
	}

	seq, err := recoverSeq(w.logger, w.dir, ids, active)

	if err != nil {
		return err
	}

	w.active = active
	w.segmentIDs = ids
	w.seq.Store(seq)
	w.rotatedAt = time.Now()

	level.Debug(w.logger).Log("msg", "wal loaded", "segments", len(ids), "seq", seq)

	return nil
}

// recoverSeq resumes the sequence counter from disk. A freshly rotated,
// still empty active segment defers to the previous segment's tail.
func recoverSeq(logger log.Logger, dir string, ids []uint64, active *Segment) (uint64, error) {
	if !active.Empty() {
		return active.LatestVersion()
	}

	if len(ids) == 1 {
		return 0, nil
	}

	prev, err := OpenSegment(logger, dir, ids[len(ids)-2])

	if err != nil {
		return 0, err
	}

	defer prev.Close()

	return prev.LatestVersion()
}

// Append assigns the next sequence number to buf, suffixes it, and hands
// the result to the active segment. On a failed append the consumed
// sequence number is not rolled back.
func (w *Wal) Append(buf []byte) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	seq := w.seq.Add(1)

	rec := make([]byte, 0, len(buf)+versionSuffixLen)
	rec = append(rec, buf...)
	rec = binary.LittleEndian.AppendUint64(rec, seq)

	if err := w.maybeRotate(len(rec)); err != nil {
		return err
	}

	if err := w.active.Append(rec); err != nil {
		w.metrics.writesFailed.Inc()
		return err
	}

	w.metrics.appendsTotal.Inc()

	return nil
}

// maybeRotate closes the active segment and opens a fresh one when the
// pending write would push it past the size limit, or when it has been
// active longer than the rotation interval. The new segment is named with
// the current sequence value.
func (w *Wal) maybeRotate(pending int) error {
	overSize := uint64(pending)+uint64(w.active.Size()) > uint64(w.opts.FileMaxSize)
	overAge := w.opts.RotationLiveTime > 0 && time.Since(w.rotatedAt) > w.opts.RotationLiveTime

	if !overSize && !overAge {
		return nil
	}

	id := w.seq.Load()

	segment, err := OpenSegment(w.logger, w.dir, id)

	if err != nil {
		return err
	}

	start := time.Now()

	if err := w.active.Close(); err != nil {
		level.Error(w.logger).Log("msg", "error closing previous segment", "err", err, "segmentId", w.active.ID())
	}

	w.metrics.fsyncDuration.Observe(time.Since(start).Seconds())

	w.segmentIDs = append(w.segmentIDs, id)
	w.active = segment
	w.rotatedAt = time.Now()
	w.metrics.rotationsTotal.Inc()

	level.Debug(w.logger).Log("msg", "wal rotated", "segmentId", id)

	return nil
}

// ReadRange scans every segment that may hold records at or above
// minVersion, oldest first, delivering each recovered record to h in file
// order. Segment ids are the sequence value at creation time, so the
// newest segment whose id does not exceed minVersion is included: records
// at minVersion can live there.
func (w *Wal) ReadRange(minVersion uint64, h HandleFunc) error {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	if w.active.ID() == minVersion {
		return w.active.ReadAll(h)
	}

	start := 0

	for i, id := range w.segmentIDs {
		if id <= minVersion {
			start = i
		}
	}

	for _, id := range w.segmentIDs[start:] {
		segment, err := OpenSegment(w.logger, w.dir, id)

		if err != nil {
			return err
		}

		err = segment.ReadAll(h)

		if cerr := segment.Close(); cerr != nil {
			level.Error(w.logger).Log("msg", "error closing read segment", "err", cerr, "segmentId", id)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// TruncateAll deletes every segment file and resets the log to its
// freshly-constructed state at the same path: sequence zero, one empty
// active segment.
func (w *Wal) TruncateAll() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	for _, id := range w.segmentIDs {
		segment := w.active

		if id != w.active.ID() {
			var err error
			segment, err = OpenSegment(w.logger, w.dir, id)

			if err != nil {
				return err
			}
		}

		if err := segment.Delete(); err != nil {
			return err
		}
	}

	w.metrics.truncationsTotal.Inc()
	level.Debug(w.logger).Log("msg", "wal truncated")

	return w.load()
}

// Seq returns the most recently assigned sequence number.
func (w *Wal) Seq() uint64 {
	return w.seq.Load()
}

// Close syncs and releases the active segment.
func (w *Wal) Close() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.active.Close()
}
