package storage

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/tsdb/wlog"
)

// File is the file-backed Store. The write half goes through the embedded
// segment file handle, the read half through ReaderAt.
type File struct {
	wlog.SegmentFile
	reader io.ReaderAt
	path   string
}

func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)

	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	return &File{
		SegmentFile: f,
		reader:      f,
		path:        path,
	}, nil
}

func (f *File) Append(p []byte) (int, error) {
	return f.Write(p)
}

func (f *File) Get(offset uint64, p []byte) (int, error) {
	n, err := f.reader.ReadAt(p, int64(offset))

	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}

	return n, err
}

func (f *File) GetFromEnd(offset int64, p []byte) (int, error) {
	meta, err := f.Meta()

	if err != nil {
		return 0, err
	}

	pos := int64(meta.Size) + offset

	if pos < 0 {
		return 0, nil
	}

	return f.Get(uint64(pos), p)
}

func (f *File) Meta() (Meta, error) {
	stat, err := f.Stat()

	if err != nil {
		return Meta{}, err
	}

	return Meta{Size: uint64(stat.Size())}, nil
}

func (f *File) Remove() error {
	if err := f.Close(); err != nil {
		return err
	}

	return os.Remove(f.path)
}

func (f *File) Path() string {
	return f.path
}
