//go:build integration

package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/Chichichkin/LogProducer/internal/logging/producer"
)

// setupLokiContainer starts a single-binary Loki with its default local config.
func setupLokiContainer(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "grafana/loki:3.0.0",
		ExposedPorts: []string{"3100/tcp"},
		WaitingFor: wait.ForHTTP("/ready").
			WithPort("3100/tcp").
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get host: %w", err)
	}
	port, err := container.MappedPort(ctx, "3100")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get port: %w", err)
	}

	return container, fmt.Sprintf("http://%s:%s", host, port.Port()), nil
}

func TestIntegration_ProducerShipsToLoki(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, baseURL, err := setupLokiContainer(ctx)
	require.NoError(t, err)
	defer func() { _ = container.Terminate(context.Background()) }()

	sender := NewLokiSender(Config{URL: baseURL, Compress: true})
	p, err := producer.New(sender, producer.Config{
		MaxBatchCount: 10,
		Linger:        100 * time.Millisecond,
		Retries:       3,
	}, producer.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		ok := p.Send(map[string]string{
			"pod": "integration",
			"Msg": fmt.Sprintf("line %d", i),
		})
		require.True(t, ok)
	}
	p.Close(10 * time.Second)

	s := p.Stats()
	assert.Equal(t, int64(25), s.LogCount)
	assert.Equal(t, int64(0), s.SendFail)

	assert.Eventually(t, func() bool {
		return queryCount(baseURL, `{pod="integration"}`) == 25
	}, 30*time.Second, 500*time.Millisecond)
}

func queryCount(baseURL, selector string) int {
	q := url.Values{}
	q.Set("query", selector)
	q.Set("limit", "1000")
	q.Set("start", fmt.Sprint(time.Now().Add(-time.Hour).UnixNano()))

	resp, err := http.Get(baseURL + "/loki/api/v1/query_range?" + q.Encode())
	if err != nil {
		return -1
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Result []struct {
				Values [][2]string `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return -1
	}

	n := 0
	for _, r := range result.Data.Result {
		n += len(r.Values)
	}
	return n
}
