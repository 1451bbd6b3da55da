package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"mineral/config"
	"mineral/storage/wal"
)

func main() {
	logger := log.NewLogfmtLogger(os.Stdout)
	registerer := prometheus.NewRegistry()

	w, err := wal.Open(logger, registerer, "data", config.DefaultWALOptions())

	if err != nil {
		level.Error(logger).Log("err", err)
		return
	}

	done := false

	wg := sync.WaitGroup{}

	wg.Add(1)

	go func() {
		defer wg.Done()

		offset := uint32(0)

		now := time.Now()

		for !done {
			rec := wal.Record{Op: wal.OpAdd, Offset: offset, Data: []byte("It's hello world test for wal")}

			if err := w.Append(rec.Encode()); err != nil {
				level.Error(logger).Log("err", err)
			}

			offset++
		}

		logger.Log("now", time.Now(), "since", time.Since(now), "records", offset, "seq", w.Seq(), "msg", "records have been written")
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	logger.Log("msg", "app started...")
	<-sigs

	done = true
	wg.Wait()

	if err := w.Close(); err != nil {
		level.Error(logger).Log("err", err)
	}

	logger.Log("msg", "exiting...")
}
