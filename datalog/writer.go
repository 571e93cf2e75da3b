package datalog

import (
	"sync/atomic"

	"github.com/b3nn0/kellerld/sensors"
	log "github.com/sirupsen/logrus"
)

const writerQueueLen = 1024

// Writer logs samples from a channel so the poll loop never waits on the disk.
type Writer struct {
	log        *Log
	session    int64
	flushEvery int
	rows       chan sensors.Sample
	done       chan struct{}
	dropped    uint64
}

// NewWriter starts writing samples for session. Free space is checked every flushEvery inserts.
func NewWriter(l *Log, session int64, flushEvery int) *Writer {
	if flushEvery < 1 {
		flushEvery = 1
	}
	w := &Writer{
		log:        l,
		session:    session,
		flushEvery: flushEvery,
		rows:       make(chan sensors.Sample, writerQueueLen),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// Send queues a sample. It drops the sample when the queue is full.
func (w *Writer) Send(s sensors.Sample) {
	select {
	case w.rows <- s:
	default:
		atomic.AddUint64(&w.dropped, 1)
	}
}

// Dropped returns the number of samples lost to a full queue.
func (w *Writer) Dropped() uint64 {
	return atomic.LoadUint64(&w.dropped)
}

func (w *Writer) run() {
	defer close(w.done)
	n := 0
	for s := range w.rows {
		if err := w.log.Insert(w.session, s); err != nil {
			log.WithError(err).Warn("datalog: insert failed")
			continue
		}
		n++
		if n%w.flushEvery != 0 {
			continue
		}
		deleted, err := w.log.Prune()
		if err != nil {
			log.WithError(err).Warn("datalog: prune failed")
		} else if deleted > 0 {
			log.WithField("rows", deleted).Info("datalog: low on disk space, pruned oldest measurements")
		}
	}
}

// Close writes the queued samples and stops the writer. Send must not be called afterwards.
func (w *Writer) Close() {
	close(w.rows)
	<-w.done
}
