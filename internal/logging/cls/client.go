package cls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

const uploadPath = "/structuredlog"

type Config struct {
	// Host is the regional endpoint, e.g. ap-guangzhou.cls.tencentcs.com.
	// https:// is assumed when no scheme is given.
	Host      string
	SecretID  string
	SecretKey string
	// Filename is reported as the LogGroup filename when set.
	Filename string
	Timeout  time.Duration
}

// Sender uploads chunks to a CLS topic. The destination passed to Send is
// the topic id.
type Sender struct {
	endpoint   string
	host       string
	secretID   string
	secretKey  string
	filename   string
	httpClient *http.Client
	now        func() time.Time
}

type errorBody struct {
	ErrorCode    string `json:"errorcode"`
	ErrorMessage string `json:"errormessage"`
}

func NewSender(config Config) (*Sender, error) {
	if config.Host == "" || config.SecretID == "" || config.SecretKey == "" {
		return nil, errors.New("cls: host, secret id and secret key are required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	endpoint := config.Host
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("cls: invalid host %q: %w", config.Host, err)
	}

	return &Sender{
		endpoint:  endpoint,
		host:      u.Host,
		secretID:  config.SecretID,
		secretKey: config.SecretKey,
		filename:  config.Filename,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		now: time.Now,
	}, nil
}

func (s *Sender) Send(ctx context.Context, topicID string, payload logging.Payload) logging.Outcome {
	if len(payload.Logs) == 0 {
		return logging.Delivered()
	}
	return logging.ClassifyError(s.upload(ctx, topicID, encodeLogGroupList(payload, s.filename)))
}

func (s *Sender) upload(ctx context.Context, topicID string, body []byte) error {
	params := url.Values{}
	params.Set("topic_id", topicID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+uploadPath+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	signed := map[string]string{
		"Content-Type": "application/x-protobuf",
		"Host":         s.host,
	}
	req.Header.Set("Content-Type", signed["Content-Type"])
	req.Header.Set("Authorization", signature(s.secretID, s.secretKey, http.MethodPost, uploadPath, params, signed, s.now()))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	sinkErr := &logging.SinkError{
		Status:    resp.StatusCode,
		RequestID: resp.Header.Get("X-Cls-Requestid"),
		Message:   strings.TrimSpace(string(raw)),
	}
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.ErrorCode != "" {
		sinkErr.Kind = eb.ErrorCode
		sinkErr.Message = eb.ErrorMessage
	}
	return sinkErr
}
