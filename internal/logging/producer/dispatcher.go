package producer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

// dispatcher splits a drained batch into chunks and delivers each one,
// retrying with exponential backoff. It never returns an error: outcomes
// end up in the counters and the log.
type dispatcher struct {
	sink    logging.Sink
	config  Config
	stats   *counters
	logger  *zap.Logger
	sleep   func(time.Duration)
	workers *semaphore.Weighted
}

func newDispatcher(sink logging.Sink, config Config, stats *counters, logger *zap.Logger, sleep func(time.Duration)) *dispatcher {
	return &dispatcher{
		sink:    sink,
		config:  config,
		stats:   stats,
		logger:  logger,
		sleep:   sleep,
		workers: semaphore.NewWeighted(int64(config.MaxSendWorkers)),
	}
}

func (d *dispatcher) dispatch(entries []logging.Entry) {
	if len(entries) == 0 {
		return
	}

	chunks := d.chunk(entries)
	if d.config.MaxSendWorkers <= 1 || len(chunks) == 1 {
		for _, c := range chunks {
			d.deliverSafe(c)
		}
		return
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, c := range chunks {
		// Acquire only fails on a cancelled context.
		_ = d.workers.Acquire(ctx, 1)
		wg.Add(1)
		go func(c []logging.Entry) {
			defer wg.Done()
			defer d.workers.Release(1)
			d.deliverSafe(c)
		}(c)
	}
	wg.Wait()
}

// chunk cuts entries into consecutive runs bounded by MaxBatchCount entries
// and MaxBatchSize bytes. A single entry larger than MaxBatchSize still gets
// a chunk of its own.
func (d *dispatcher) chunk(entries []logging.Entry) [][]logging.Entry {
	var chunks [][]logging.Entry
	start, bytes := 0, 0
	for i, e := range entries {
		count := i - start
		if count > 0 && (count >= d.config.MaxBatchCount || bytes+e.Size > d.config.MaxBatchSize) {
			chunks = append(chunks, entries[start:i:i])
			start, bytes = i, 0
		}
		bytes += e.Size
	}
	return append(chunks, entries[start:len(entries):len(entries)])
}

func (d *dispatcher) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.config.BaseRetryBackoff
	exp.MaxInterval = d.config.MaxRetryBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(d.config.Retries))
}

// deliverSafe contains a panicking sink to the chunk it was handed, which
// counts as one failed send. Later chunks are still delivered.
func (d *dispatcher) deliverSafe(chunk []logging.Entry) {
	defer func() {
		if r := recover(); r != nil {
			d.stats.IncFail()
			d.logger.Error("delivery panicked, dropping chunk", zap.Any("panic", r), zap.Int("logs", len(chunk)))
		}
	}()
	d.deliver(chunk)
}

func (d *dispatcher) deliver(chunk []logging.Entry) {
	payload := buildPayload(chunk, d.config.Source, d.config.FieldMap)
	bo := d.newBackOff()

	var last logging.Outcome
	for attempt := 1; ; attempt++ {
		last = d.sink.Send(context.Background(), d.config.DestinationID, payload)
		if last.Kind == logging.Success {
			d.stats.IncSuccess()
			d.stats.AddLogs(len(chunk))
			return
		}
		if last.Kind == logging.Fatal {
			break
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		d.logger.Warn("send failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("retries", d.config.Retries),
			zap.Duration("backoff", wait),
			zap.Error(last.Err),
		)
		d.sleep(wait)
	}

	d.stats.IncFail()
	d.logger.Error("send failed permanently, dropping chunk",
		zap.Int("logs", len(chunk)),
		zap.Stringer("outcome", last.Kind),
		zap.Error(last.Err),
	)
}

// buildPayload renders chunk in order, renaming keys found in fieldMap.
func buildPayload(chunk []logging.Entry, source string, fieldMap map[string]string) logging.Payload {
	logs := make([]logging.Log, 0, len(chunk))
	for _, e := range chunk {
		contents := make([]logging.Field, 0, len(e.Fields))
		for _, f := range e.Fields {
			key := f.Key
			if renamed, ok := fieldMap[key]; ok {
				key = renamed
			}
			contents = append(contents, logging.Field{Key: key, Value: f.Value})
		}
		logs = append(logs, logging.Log{TimestampUs: e.TimestampUs, Contents: contents})
	}
	return logging.Payload{Source: source, Logs: logs}
}
