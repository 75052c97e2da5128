package adapter

import (
	"time"

	"github.com/agilira/go-timecache"
	"github.com/agilira/iris"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

// IrisWriter implements iris.SyncWriter on top of a Producer.
type IrisWriter struct {
	producer logging.Producer
	mapper   *Mapper
	name     string
}

func NewIrisWriter(producer logging.Producer, mapper *Mapper, name string) *IrisWriter {
	if mapper == nil {
		mapper = NewMapper("")
	}
	return &IrisWriter{
		producer: producer,
		mapper:   mapper,
		name:     name,
	}
}

func (w *IrisWriter) WriteRecord(record *iris.Record) error {
	now := time.Unix(0, timecache.CachedTimeNano())
	fields := w.mapper.Fields(Record{
		Time:    now,
		Level:   mapLevel(record.Level),
		Message: record.Msg,
		Name:    w.name,
	})
	w.producer.SendAt(fields, now.UnixMicro())
	return nil
}

// Close flushes; the producer's lifecycle stays with its owner.
func (w *IrisWriter) Close() error {
	w.producer.Flush()
	return nil
}

func mapLevel(level iris.Level) string {
	switch level {
	case iris.Debug:
		return "DEBUG"
	case iris.Info:
		return "INFO"
	case iris.Warn:
		return "WARN"
	case iris.Error:
		return "ERROR"
	case iris.DPanic:
		return "DPANIC"
	case iris.Panic:
		return "PANIC"
	case iris.Fatal:
		return "FATAL"
	default:
		return "INFO"
	}
}
