package adapter

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

// Core is a zapcore.Core that hands every enabled entry to a Producer.
// Tee it with a console core to keep local output.
type Core struct {
	zapcore.LevelEnabler
	producer logging.Producer
	mapper   *Mapper
	fields   []zapcore.Field
}

func NewCore(producer logging.Producer, mapper *Mapper, enab zapcore.LevelEnabler) *Core {
	if mapper == nil {
		mapper = NewMapper("")
	}
	return &Core{
		LevelEnabler: enab,
		producer:     producer,
		mapper:       mapper,
	}
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write never fails: a full buffer is a counted drop, not a logging error.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	extra := make(map[string]string, len(enc.Fields))
	for k, v := range enc.Fields {
		extra[k] = stringify(v)
	}

	r := Record{
		Time:    ent.Time,
		Level:   ent.Level.CapitalString(),
		Message: ent.Message,
		Name:    ent.LoggerName,
		Stack:   ent.Stack,
		Extra:   extra,
	}
	if ent.Caller.Defined {
		r.Caller = ent.Caller.TrimmedPath()
		r.Function = ent.Caller.Function
	}

	c.producer.SendAt(c.mapper.Fields(r), ent.Time.UnixMicro())
	return nil
}

// Sync pushes whatever is buffered.
func (c *Core) Sync() error {
	c.producer.Flush()
	return nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
