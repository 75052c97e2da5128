package logging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEntry_SizeAndOrder(t *testing.T) {
	e := NewEntry(map[string]string{"b": "22", "a": "1"}, 7)

	assert.Equal(t, int64(7), e.TimestampUs)
	assert.Equal(t, []Field{{Key: "a", Value: "1"}, {Key: "b", Value: "22"}}, e.Fields)
	assert.Equal(t, 5, e.Size)
	assert.Equal(t, map[string]string{"a": "1", "b": "22"}, e.Map())
}

func TestNewEntryFromFields_KeepsOrder(t *testing.T) {
	e := NewEntryFromFields([]Field{{Key: "z", Value: "last"}, {Key: "a", Value: "first"}}, 1)

	assert.Equal(t, "z", e.Fields[0].Key)
	assert.Equal(t, len("z")+len("last")+len("a")+len("first"), e.Size)
}

func TestNewEntryFromFields_CopiesInput(t *testing.T) {
	fields := []Field{{Key: "Msg", Value: "original"}}
	e := NewEntryFromFields(fields, 1)

	fields[0].Value = "changed after send"
	fields[0].Key = "other"

	assert.Equal(t, []Field{{Key: "Msg", Value: "original"}}, e.Fields)
	assert.Equal(t, len("Msg")+len("original"), e.Size)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want OutcomeKind
	}{
		{name: "nil", err: nil, want: Success},
		{name: "internal error", err: &SinkError{Kind: KindInternalError, Status: 200}, want: Retryable},
		{name: "timeout", err: &SinkError{Kind: KindTimeout}, want: Retryable},
		{name: "quota", err: &SinkError{Kind: KindSpeedQuotaExceed, Status: 403}, want: Retryable},
		{name: "server status", err: &SinkError{Kind: "Whatever", Status: 502}, want: Retryable},
		{name: "unauthorized", err: &SinkError{Kind: "Unauthorized", Status: 401}, want: Fatal},
		{name: "topic missing", err: &SinkError{Kind: "TopicNotExist", Status: 404}, want: Fatal},
		{name: "wrapped sink error", err: fmt.Errorf("push: %w", &SinkError{Status: 400}), want: Fatal},
		{name: "transport error", err: errors.New("dial tcp: connection refused"), want: Retryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ClassifyError(tt.err)
			assert.Equal(t, tt.want, out.Kind)
			assert.Equal(t, tt.err, out.Err)
		})
	}
}

func TestSinkError_Message(t *testing.T) {
	err := &SinkError{Kind: "Unauthorized", Status: 401, Message: "bad key", RequestID: "req-1"}
	assert.Contains(t, err.Error(), "request_id=req-1")
	assert.Contains(t, err.Error(), "bad key")
}
