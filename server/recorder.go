package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/maxstrauch/theia/history"
)

// Recorder serializes journal writes through a single goroutine so that
// finished runs are recorded without blocking the handlers that started
// them. A Recorder with a nil journal drops every entry.
type Recorder struct {
	journal *history.Journal
	keep    int
	entries chan history.Entry
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewRecorder creates a Recorder and starts the writing goroutine. When
// keep is positive only the newest keep entries are retained.
func NewRecorder(j *history.Journal, keep int) *Recorder {
	r := &Recorder{
		journal: j,
		keep:    keep,
		entries: make(chan history.Entry, 64),
		quit:    make(chan struct{}),
	}
	if j != nil {
		r.wg.Add(1)
		go r.loop()
	}
	return r
}

// Journal returns the underlying journal, which may be nil.
func (r *Recorder) Journal() *history.Journal {
	return r.journal
}

// loop writes entries sequentially until Stop. Queued entries are flushed
// before it returns.
func (r *Recorder) loop() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.entries:
			r.write(e)
		case <-r.quit:
			for {
				select {
				case e := <-r.entries:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

// write records one entry, recovering from panics.
func (r *Recorder) write(e history.Entry) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("journal write panicked: %v", fmt.Sprint(p))
		}
	}()
	ctx := context.Background()
	if _, err := r.journal.Record(ctx, e); err != nil {
		log.Errorf("journal write: %v", err)
		return
	}
	if r.keep > 0 {
		if _, err := r.journal.Prune(ctx, r.keep); err != nil {
			log.Errorf("journal prune: %v", err)
		}
	}
}

// Submit queues an entry. It blocks only while the queue is full.
func (r *Recorder) Submit(e history.Entry) {
	if r.journal == nil {
		return
	}
	select {
	case r.entries <- e:
	case <-r.quit:
	}
}

// Stop flushes queued entries and shuts down the writing goroutine.
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.quit) })
	r.wg.Wait()
}
