// Package adapter turns records from logging libraries into the flat field
// maps the producer ships.
package adapter

import (
	"sync"
	"time"
)

// Field names written for every record.
const (
	TimeKey       = "Time"
	LevelKey      = "Level"
	MsgKey        = "Msg"
	CallerKey     = "Caller"
	FuncKey       = "func"
	NameKey       = "Name"
	StackTraceKey = "StackTrace"
)

const DefaultTimeFormat = "2006-01-02 15:04:05"

// Record is the library-neutral view of one log call.
type Record struct {
	Time     time.Time
	Level    string
	Message  string
	Caller   string
	Function string
	Name     string
	Stack    string
	Extra    map[string]string
}

// Mapper renders Records into field maps. Context fields are added to every
// record unless the record already carries that key.
type Mapper struct {
	timeFormat string

	mu      sync.RWMutex
	context map[string]string
}

func NewMapper(timeFormat string) *Mapper {
	if timeFormat == "" {
		timeFormat = DefaultTimeFormat
	}
	return &Mapper{
		timeFormat: timeFormat,
		context:    make(map[string]string),
	}
}

// SetContextFields adds or replaces fields injected into every record,
// e.g. nodeID or version.
func (m *Mapper) SetContextFields(fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range fields {
		m.context[k] = v
	}
}

func (m *Mapper) Fields(r Record) map[string]string {
	fields := map[string]string{
		TimeKey:   r.Time.Format(m.timeFormat),
		LevelKey:  r.Level,
		MsgKey:    r.Message,
		CallerKey: r.Caller,
		FuncKey:   r.Function,
		NameKey:   r.Name,
	}

	m.mu.RLock()
	for k, v := range m.context {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	m.mu.RUnlock()

	if r.Stack != "" {
		fields[StackTraceKey] = r.Stack
	}
	for k, v := range r.Extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return fields
}
