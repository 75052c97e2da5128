package producer

import (
	"errors"
	"sync"
	"time"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

var (
	errClosed       = errors.New("producer closed")
	errBufferFull   = errors.New("buffer full")
	errBlockTimeout = errors.New("buffer full after waiting")
)

// buffer holds entries admitted by Send until the scheduler drains them.
//
// Blocked admitters wait on freed, which drain (and close) closes and
// replaces. The scheduler is woken through wake, a one-slot signal channel,
// as soon as a count or byte threshold is reached.
type buffer struct {
	mu         sync.Mutex
	entries    []logging.Entry
	totalBytes int
	closed     bool
	freed      chan struct{}

	capacity   int
	batchBytes int
	batchCount int

	wake chan struct{}
}

func newBuffer(capacity, batchBytes, batchCount int) *buffer {
	return &buffer{
		capacity:   capacity,
		batchBytes: batchBytes,
		batchCount: batchCount,
		freed:      make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// admit appends entry, waiting up to maxBlock for room when the buffer is
// full. The returned error says why the entry was refused.
func (b *buffer) admit(entry logging.Entry, maxBlock time.Duration) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	timedOut := false
	b.mu.Lock()
	for {
		if b.closed {
			b.mu.Unlock()
			return errClosed
		}
		if b.totalBytes+entry.Size <= b.capacity {
			break
		}
		if maxBlock <= 0 {
			b.mu.Unlock()
			return errBufferFull
		}
		if timedOut {
			b.mu.Unlock()
			return errBlockTimeout
		}
		if timer == nil {
			timer = time.NewTimer(maxBlock)
		}

		freed := b.freed
		b.mu.Unlock()
		select {
		case <-freed:
		case <-timer.C:
			// one last look at the capacity before giving up
			timedOut = true
		}
		b.mu.Lock()
	}

	b.entries = append(b.entries, entry)
	b.totalBytes += entry.Size
	reached := b.totalBytes >= b.batchBytes || len(b.entries) >= b.batchCount
	b.mu.Unlock()

	if reached {
		b.signal()
	}
	return nil
}

func (b *buffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// drain takes everything buffered and releases blocked admitters.
func (b *buffer) drain() []logging.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil
	}
	entries := b.entries
	b.entries = nil
	b.totalBytes = 0

	close(b.freed)
	b.freed = make(chan struct{})
	return entries
}

// close refuses further admissions and wakes everyone still waiting.
func (b *buffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.freed)
	b.freed = make(chan struct{})
}

func (b *buffer) size() (count, bytes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), b.totalBytes
}
