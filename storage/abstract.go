package storage

// Meta describes a stored object.
type Meta struct {
	Size uint64
}

// Store is the byte-addressable primitive the write-ahead log is built on:
// durable appends to the end of one object plus random reads over it.
type Store interface {
	// Append durably writes p to the end of the object.
	Append(p []byte) (int, error)

	// Get reads into p starting at the absolute offset. A short read
	// signals the end of the object, not an error.
	Get(offset uint64, p []byte) (int, error)

	// GetFromEnd reads into p starting at the given offset relative to
	// the end of the object; negative values address bytes before it.
	GetFromEnd(offset int64, p []byte) (int, error)

	Meta() (Meta, error)
	Sync() error
	Remove() error
	Close() error
}
