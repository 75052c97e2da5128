package logging

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Field is one key/value pair of a log entry. Entries keep fields as a slice
// so the order handed to the sink is the order the record adapter produced.
type Field struct {
	Key   string
	Value string
}

// Entry is a single timestamped log event waiting for delivery.
// It is never mutated after construction; retries resend the same value.
type Entry struct {
	TimestampUs int64
	Fields      []Field
	Size        int
}

// NewEntry builds an Entry from an unordered map. Keys are sorted so two
// entries built from equal maps produce equal payloads.
func NewEntry(fields map[string]string, timestampUs int64) Entry {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]Field, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, Field{Key: k, Value: fields[k]})
	}
	return NewEntryFromFields(ordered, timestampUs)
}

// NewEntryFromFields keeps the caller's field order. The slice is copied,
// so later changes by the caller do not reach the entry.
func NewEntryFromFields(fields []Field, timestampUs int64) Entry {
	owned := make([]Field, len(fields))
	copy(owned, fields)

	size := 0
	for _, f := range owned {
		size += len(f.Key) + len(f.Value)
	}
	return Entry{
		TimestampUs: timestampUs,
		Fields:      owned,
		Size:        size,
	}
}

// Map returns a copy of the entry fields as a map.
func (e Entry) Map() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		m[f.Key] = f.Value
	}
	return m
}

// Log is the outbound form of one entry: its time plus the ordered contents
// after field renaming.
type Log struct {
	TimestampUs int64
	Contents    []Field
}

// Payload is one chunk as handed to a Sink.
type Payload struct {
	Source string
	Logs   []Log
}

// Sink delivers one chunk to a remote log store.
type Sink interface {
	Send(ctx context.Context, destination string, payload Payload) Outcome
}

// Producer is what record adapters and the file daemon feed.
type Producer interface {
	Send(fields map[string]string) bool
	SendAt(fields map[string]string, timestampUs int64) bool
	Flush()
}

// OutcomeKind tells the dispatcher what to do after a sink call.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	Retryable
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func Delivered() Outcome { return Outcome{Kind: Success} }

func RetryableOutcome(err error) Outcome { return Outcome{Kind: Retryable, Err: err} }

func FatalOutcome(err error) Outcome { return Outcome{Kind: Fatal, Err: err} }

// Error kinds reported by the CLS API that indicate a transient server condition.
const (
	KindInternalError    = "InternalError"
	KindTimeout          = "Timeout"
	KindSpeedQuotaExceed = "SpeedQuotaExceed"
)

// SinkError is an error reported by the remote store itself.
type SinkError struct {
	Kind      string
	Status    int
	Message   string
	RequestID string
}

func (e *SinkError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("sink error: status=%d kind=%s request_id=%s: %s", e.Status, e.Kind, e.RequestID, e.Message)
	}
	return fmt.Sprintf("sink error: status=%d kind=%s: %s", e.Status, e.Kind, e.Message)
}

// Transient reports whether the store asked the client to try again later.
func (e *SinkError) Transient() bool {
	switch e.Kind {
	case KindInternalError, KindTimeout, KindSpeedQuotaExceed:
		return true
	}
	return e.Status >= 500
}

// ClassifyError maps an error raised while talking to a sink to an Outcome.
// Non-transient SinkErrors fail fast; anything unrecognised (transport
// errors, timeouts on our side) is retried.
func ClassifyError(err error) Outcome {
	if err == nil {
		return Delivered()
	}
	var se *SinkError
	if errors.As(err, &se) {
		if se.Transient() {
			return RetryableOutcome(err)
		}
		return FatalOutcome(err)
	}
	return RetryableOutcome(err)
}
