package cls

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

// Field numbers of the CLS structured log schema:
//
//	LogGroupList { repeated LogGroup logGroupList = 1; }
//	LogGroup     { repeated Log logs = 1; string contextFlow = 2; string filename = 3; string source = 4; }
//	Log          { int64 time = 1; repeated Content contents = 2; }
//	Content      { string key = 1; string value = 2; }
const (
	fieldGroupListGroups protowire.Number = 1

	fieldGroupLogs     protowire.Number = 1
	fieldGroupFilename protowire.Number = 3
	fieldGroupSource   protowire.Number = 4

	fieldLogTime     protowire.Number = 1
	fieldLogContents protowire.Number = 2

	fieldContentKey   protowire.Number = 1
	fieldContentValue protowire.Number = 2
)

// encodeLogGroupList frames payload as a LogGroupList holding one LogGroup.
func encodeLogGroupList(payload logging.Payload, filename string) []byte {
	var group []byte
	var scratch []byte
	for _, l := range payload.Logs {
		scratch = appendLog(scratch[:0], l)
		group = protowire.AppendTag(group, fieldGroupLogs, protowire.BytesType)
		group = protowire.AppendBytes(group, scratch)
	}
	if filename != "" {
		group = protowire.AppendTag(group, fieldGroupFilename, protowire.BytesType)
		group = protowire.AppendString(group, filename)
	}
	if payload.Source != "" {
		group = protowire.AppendTag(group, fieldGroupSource, protowire.BytesType)
		group = protowire.AppendString(group, payload.Source)
	}

	out := make([]byte, 0, len(group)+8)
	out = protowire.AppendTag(out, fieldGroupListGroups, protowire.BytesType)
	return protowire.AppendBytes(out, group)
}

func appendLog(b []byte, l logging.Log) []byte {
	b = protowire.AppendTag(b, fieldLogTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(l.TimestampUs))

	var content []byte
	for _, f := range l.Contents {
		content = content[:0]
		content = protowire.AppendTag(content, fieldContentKey, protowire.BytesType)
		content = protowire.AppendString(content, f.Key)
		content = protowire.AppendTag(content, fieldContentValue, protowire.BytesType)
		content = protowire.AppendString(content, f.Value)

		b = protowire.AppendTag(b, fieldLogContents, protowire.BytesType)
		b = protowire.AppendBytes(b, content)
	}
	return b
}
