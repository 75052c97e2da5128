package producer

import (
	"errors"
	"fmt"
	"time"
)

// Config controls buffering, batching and retry behaviour of a Producer.
// Zero sizes and durations are replaced by defaults in New; Retries and
// MaxBlock are taken as given because zero is meaningful for both.
type Config struct {
	// DestinationID identifies the remote log set (a CLS topic id, a Loki tenant).
	DestinationID string

	// Source is attached to every outbound chunk (usually the host IP).
	Source string

	// TotalSizeBytes caps the bytes held in memory waiting for delivery.
	TotalSizeBytes int

	// MaxBatchSize is the byte threshold that triggers an early drain and the
	// upper bound of one delivered chunk.
	MaxBatchSize int

	// MaxBatchCount is the entry-count threshold that triggers an early drain
	// and the upper bound of entries per chunk.
	MaxBatchCount int

	// Linger is the longest an entry waits before a time-triggered drain.
	Linger time.Duration

	// MaxBlock is how long Send may block on a full buffer. Zero drops instead.
	MaxBlock time.Duration

	// Retries is the number of re-sends after the first attempt.
	Retries int

	BaseRetryBackoff time.Duration
	MaxRetryBackoff  time.Duration

	// MaxSendWorkers bounds how many chunks of one drain are delivered at once.
	// 1 keeps chunks strictly sequential.
	MaxSendWorkers int

	// FieldMap renames field keys when the payload is built.
	FieldMap map[string]string
}

const (
	DefaultTotalSizeBytes   = 100 * 1024 * 1024
	DefaultMaxBatchSize     = 5 * 1024 * 1024
	DefaultMaxBatchCount    = 4096
	DefaultLinger           = 2 * time.Second
	DefaultRetries          = 10
	DefaultBaseRetryBackoff = 100 * time.Millisecond
	DefaultMaxRetryBackoff  = 50 * time.Second
	DefaultMaxSendWorkers   = 1
)

var ErrInvalidConfig = errors.New("invalid producer config")

// DefaultConfig returns the settings used by the CLS SDK.
func DefaultConfig() Config {
	return Config{
		TotalSizeBytes:   DefaultTotalSizeBytes,
		MaxBatchSize:     DefaultMaxBatchSize,
		MaxBatchCount:    DefaultMaxBatchCount,
		Linger:           DefaultLinger,
		Retries:          DefaultRetries,
		BaseRetryBackoff: DefaultBaseRetryBackoff,
		MaxRetryBackoff:  DefaultMaxRetryBackoff,
		MaxSendWorkers:   DefaultMaxSendWorkers,
	}
}

func (c Config) withDefaults() Config {
	if c.TotalSizeBytes <= 0 {
		c.TotalSizeBytes = DefaultTotalSizeBytes
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxBatchCount <= 0 {
		c.MaxBatchCount = DefaultMaxBatchCount
	}
	if c.Linger <= 0 {
		c.Linger = DefaultLinger
	}
	if c.BaseRetryBackoff <= 0 {
		c.BaseRetryBackoff = DefaultBaseRetryBackoff
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = DefaultMaxRetryBackoff
	}
	if c.MaxSendWorkers <= 0 {
		c.MaxSendWorkers = DefaultMaxSendWorkers
	}
	return c
}

func (c Config) validate() error {
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative, got %d", ErrInvalidConfig, c.Retries)
	}
	if c.MaxBlock < 0 {
		return fmt.Errorf("%w: max block must not be negative, got %s", ErrInvalidConfig, c.MaxBlock)
	}
	if c.MaxRetryBackoff < c.BaseRetryBackoff {
		return fmt.Errorf("%w: max retry backoff %s is below base %s", ErrInvalidConfig, c.MaxRetryBackoff, c.BaseRetryBackoff)
	}
	return nil
}
