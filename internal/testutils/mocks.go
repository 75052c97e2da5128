package testutils

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

// MockSink records every payload it is handed. Outcomes are taken from
// Script in call order; once Script runs out, Default is returned.
type MockSink struct {
	Script  []logging.Outcome
	Default logging.Outcome
	Delay   time.Duration

	mu           sync.Mutex
	calls        int
	payloads     []logging.Payload
	destinations []string
	delivered    []logging.Payload
}

func (m *MockSink) Send(_ context.Context, destination string, payload logging.Payload) logging.Outcome {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := m.Default
	if m.calls < len(m.Script) {
		outcome = m.Script[m.calls]
	}
	m.calls++
	m.payloads = append(m.payloads, payload)
	m.destinations = append(m.destinations, destination)
	if outcome.Kind == logging.Success {
		m.delivered = append(m.delivered, payload)
	}
	return outcome
}

// Calls is the number of Send attempts, retries included.
func (m *MockSink) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Payloads returns every payload attempted, retries included.
func (m *MockSink) Payloads() []logging.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.Payload(nil), m.payloads...)
}

// Delivered returns only the payloads whose attempt succeeded.
func (m *MockSink) Delivered() []logging.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.Payload(nil), m.delivered...)
}

func (m *MockSink) Destinations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.destinations...)
}

// DeliveredLogs flattens the successfully delivered payloads.
func (m *MockSink) DeliveredLogs() []logging.Log {
	var logs []logging.Log
	for _, p := range m.Delivered() {
		logs = append(logs, p.Logs...)
	}
	return logs
}

// MockProducer stands in for the real producer in adapter and daemon tests.
type MockProducer struct {
	Reject bool

	mu         sync.Mutex
	Sent       []map[string]string
	Timestamps []int64
	FlushCalls int
}

func (m *MockProducer) Send(fields map[string]string) bool {
	return m.SendAt(fields, time.Now().UnixMicro())
}

func (m *MockProducer) SendAt(fields map[string]string, timestampUs int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Reject {
		return false
	}
	m.Sent = append(m.Sent, fields)
	m.Timestamps = append(m.Timestamps, timestampUs)
	return true
}

func (m *MockProducer) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlushCalls++
}

func (m *MockProducer) GetSent() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]string(nil), m.Sent...)
}

func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":          "log content 1\nline 2\n",
		"default_pod-1_uid123/container-2/app.log":          "log content 2\nerror log\n",
		"kube-system_pod-2_uid456/container/app.log":        "log content 3\ninfo message\n",
		"default_pod-3_uid789/container/app.log":            "log content 4\n",
		"monitoring_pod-4_uid101/grafana/grafana.log":       "grafana starting\n",
		"monitoring_pod-4_uid101/prometheus/prometheus.log": "prometheus ready\n",
		"monitoring_pod-4_uid101/prometheus/notes.txt":      "not a log\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
