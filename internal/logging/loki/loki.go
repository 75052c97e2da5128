package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

// DefaultLabelKeys are promoted from entry fields to stream labels.
var DefaultLabelKeys = []string{"node", "namespace", "pod", "container", "Level"}

type Config struct {
	URL string
	// LabelKeys lists the field keys that become stream labels; everything
	// else goes into the log line.
	LabelKeys []string
	// StaticLabels are added to every stream.
	StaticLabels map[string]string
	Timeout      time.Duration
	Compress     bool
}

type Sender struct {
	baseURL      string
	httpClient   *http.Client
	labelKeys    map[string]struct{}
	staticLabels map[string]string
	compress     bool
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type Payload struct {
	Streams []Stream `json:"streams"`
}

func NewLokiSender(config Config) *Sender {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.LabelKeys == nil {
		config.LabelKeys = DefaultLabelKeys
	}
	keys := make(map[string]struct{}, len(config.LabelKeys))
	for _, k := range config.LabelKeys {
		keys[k] = struct{}{}
	}
	static := map[string]string{"job": "log-producer"}
	for k, v := range config.StaticLabels {
		static[k] = v
	}

	return &Sender{
		baseURL: strings.TrimRight(config.URL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		labelKeys:    keys,
		staticLabels: static,
		compress:     config.Compress,
	}
}

// Send pushes one chunk. destination, when set, is sent as the tenant id.
func (ls *Sender) Send(ctx context.Context, destination string, payload logging.Payload) logging.Outcome {
	if len(payload.Logs) == 0 {
		return logging.Delivered()
	}

	body, err := json.Marshal(ls.createPayload(payload))
	if err != nil {
		return logging.FatalOutcome(fmt.Errorf("failed to marshal payload: %w", err))
	}

	return logging.ClassifyError(ls.sendRequest(ctx, destination, body))
}

func (ls *Sender) createPayload(payload logging.Payload) Payload {
	streams := make(map[string]*Stream)
	var order []string

	for _, l := range payload.Logs {
		labels, line := ls.split(l, payload.Source)
		key := streamKey(labels)

		stream, exists := streams[key]
		if !exists {
			stream = &Stream{Stream: labels, Values: [][2]string{}}
			streams[key] = stream
			order = append(order, key)
		}
		timestamp := strconv.FormatInt(l.TimestampUs*1000, 10)
		stream.Values = append(stream.Values, [2]string{timestamp, line})
	}

	out := Payload{Streams: make([]Stream, 0, len(streams))}
	for _, key := range order {
		out.Streams = append(out.Streams, *streams[key])
	}
	return out
}

// split separates label fields from the rest, which is rendered as a JSON
// object in field order.
func (ls *Sender) split(l logging.Log, source string) (map[string]string, string) {
	labels := make(map[string]string, len(ls.staticLabels)+2)
	for k, v := range ls.staticLabels {
		labels[k] = v
	}
	if source != "" {
		labels["source"] = source
	}

	var line bytes.Buffer
	line.WriteByte('{')
	first := true
	for _, f := range l.Contents {
		if _, ok := ls.labelKeys[f.Key]; ok && f.Value != "" {
			labels[f.Key] = f.Value
			continue
		}
		if !first {
			line.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(f.Key)
		v, _ := json.Marshal(f.Value)
		line.Write(k)
		line.WriteByte(':')
		line.Write(v)
	}
	line.WriteByte('}')
	return labels, line.String()
}

func streamKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(',')
	}
	return sb.String()
}

func (ls *Sender) sendRequest(ctx context.Context, tenant string, body []byte) error {
	contentEncoding := ""
	if ls.compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
		body = buf.Bytes()
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.baseURL+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	if tenant != "" {
		req.Header.Set("X-Scope-OrgID", tenant)
	}

	resp, err := ls.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	sinkErr := &logging.SinkError{
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(responseBody)),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		sinkErr.Kind = logging.KindSpeedQuotaExceed
	}
	return sinkErr
}
