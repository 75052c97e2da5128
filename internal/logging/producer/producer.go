package producer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"go.uber.org/zap"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

const (
	stateRunning int32 = iota
	stateClosing
	stateClosed
)

// Producer buffers log entries in memory and ships them to a Sink in
// batches from a single background goroutine.
type Producer struct {
	config     Config
	buf        *buffer
	dispatcher *dispatcher
	stats      *counters
	logger     *zap.Logger

	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}
}

type Option func(*options)

type options struct {
	logger *zap.Logger
	sleep  func(time.Duration)
}

// WithLogger sets the logger used for drops, retries and the close summary.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSleep replaces the function used to wait between retries.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// New validates config, fills in defaults and starts the background flush loop.
func New(sink logging.Sink, config Config, opts ...Option) (*Producer, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	o := options{
		logger: zap.L(),
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named("producer")

	stats := &counters{}
	p := &Producer{
		config:     config,
		buf:        newBuffer(config.TotalSizeBytes, config.MaxBatchSize, config.MaxBatchCount),
		dispatcher: newDispatcher(sink, config, stats, logger, o.sleep),
		stats:      stats,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go p.run()

	logger.Debug("producer started",
		zap.String("destination", config.DestinationID),
		zap.Int("total_size_bytes", config.TotalSizeBytes),
		zap.Int("max_batch_count", config.MaxBatchCount),
		zap.Duration("linger", config.Linger),
	)
	return p, nil
}

// Send stamps fields with the current time and buffers them.
// It reports false when the entry was dropped.
func (p *Producer) Send(fields map[string]string) bool {
	return p.SendAt(fields, timecache.CachedTimeNano()/int64(time.Microsecond))
}

// SendAt buffers fields with an explicit timestamp in microseconds.
func (p *Producer) SendAt(fields map[string]string, timestampUs int64) bool {
	return p.SendEntry(logging.NewEntry(fields, timestampUs))
}

// SendEntry buffers a prebuilt entry.
func (p *Producer) SendEntry(entry logging.Entry) bool {
	if p.state.Load() != stateRunning {
		p.stats.IncDrop()
		return false
	}

	err := p.buf.admit(entry, p.config.MaxBlock)
	if err == nil {
		return true
	}

	p.stats.IncDrop()
	if !errors.Is(err, errClosed) {
		_, bytes := p.buf.size()
		p.logger.Warn("log buffer full, dropping entry",
			zap.Error(err),
			zap.Int("buffer_bytes", bytes),
			zap.Int("limit", p.config.TotalSizeBytes),
			zap.Int("entry_bytes", entry.Size),
		)
	}
	return false
}

// Flush drains the buffer and delivers it on the calling goroutine.
func (p *Producer) Flush() {
	p.flush()
}

// Stats returns a snapshot of the delivery counters.
func (p *Producer) Stats() Stats {
	return p.stats.Snapshot()
}

// Close stops accepting entries, lets the flush loop do its final pass,
// waits for it up to timeout and then delivers anything still buffered.
// Only the first call has an effect.
func (p *Producer) Close(timeout time.Duration) {
	if !p.state.CompareAndSwap(stateRunning, stateClosing) {
		return
	}

	p.buf.close()
	close(p.stop)

	timer := time.NewTimer(timeout)
	select {
	case <-p.done:
	case <-timer.C:
		p.logger.Warn("timed out waiting for flush loop", zap.Duration("timeout", timeout))
	}
	timer.Stop()

	p.Flush()
	p.state.Store(stateClosed)

	s := p.Stats()
	p.logger.Info("producer closed",
		zap.Int64("send_success", s.SendSuccess),
		zap.Int64("send_fail", s.SendFail),
		zap.Int64("log_count", s.LogCount),
		zap.Int64("drop_count", s.DropCount),
	)
}

// Closed reports whether Close has completed.
func (p *Producer) Closed() bool {
	return p.state.Load() == stateClosed
}

func (p *Producer) String() string {
	count, bytes := p.buf.size()
	return fmt.Sprintf("producer(destination=%s, buffered=%d, bytes=%d)", p.config.DestinationID, count, bytes)
}
