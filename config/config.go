package config

import "time"

// WALOptions controls segment rotation for the write-ahead log.
type WALOptions struct {
	// FileMaxSize is the byte size a segment may not outgrow; the log
	// rotates before a write would push the active segment past it.
	FileMaxSize uint32

	// RotationLiveTime rotates segments that have been active longer
	// than this. Zero disables age-based rotation.
	RotationLiveTime time.Duration
}

func DefaultWALOptions() WALOptions {
	return WALOptions{
		FileMaxSize:      4294967295,
		RotationLiveTime: 30 * time.Minute,
	}
}
