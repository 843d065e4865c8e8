package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
	"github.com/skypro1111/realtime-asr-service/internal/pipeline"
)

// Config contains transcription client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Language string
	// Prompt carries vocabulary and context hints to the recognizer.
	Prompt        string
	Temperature   float32
	Timeout       time.Duration
	MaxConcurrent int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// transcriptionResponse is the subset of the API response we consume
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Client uploads chunk audio to the speech-to-text API. Retry is the
// pipeline's responsibility: every failure is returned once, classified as
// a StageError.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe uploads the chunk's audio and returns the raw transcription
// text. Errors carry a pipeline.StageError classification.
func (c *Client) Transcribe(ctx context.Context, chunk *audio.Chunk) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	startTime := time.Now()
	c.countRequest()

	text, err := c.doRequest(ctx, chunk)
	if err != nil {
		c.countFailure()
		return "", err
	}

	c.countSuccess(time.Since(startTime))
	return text, nil
}

func (c *Client) doRequest(ctx context.Context, chunk *audio.Chunk) (string, error) {
	wav, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode chunk %d: %w", chunk.ID, err)
	}

	requestID := uuid.NewString()
	body, contentType, err := c.buildMultipart(chunk, wav, requestID)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pipeline.NewStageError("transcribe", pipeline.ClassifyTransport(err),
			fmt.Errorf("request %s: %w", requestID, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pipeline.NewStageError("transcribe", pipeline.ClassifyTransport(err),
			fmt.Errorf("request %s: reading response: %w", requestID, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", pipeline.NewStageError("transcribe", pipeline.ClassifyStatus(resp.StatusCode),
			fmt.Errorf("request %s: HTTP %d: %s", requestID, resp.StatusCode, excerpt(respBody)))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", pipeline.NewStageError("transcribe", pipeline.KindUnknown,
			fmt.Errorf("request %s: parsing response: %w", requestID, err))
	}
	return strings.TrimSpace(parsed.Text), nil
}

func (c *Client) buildMultipart(chunk *audio.Chunk, wav []byte, requestID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", fmt.Sprintf("chunk_%d_%s.wav", chunk.ID, requestID))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           c.config.Model,
		"response_format": "json",
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	if c.config.Prompt != "" {
		fields["prompt"] = c.config.Prompt
	}
	if c.config.Temperature > 0 {
		fields["temperature"] = fmt.Sprintf("%.2f", c.config.Temperature)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// excerpt truncates an error body for log-friendly messages
func excerpt(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func (c *Client) countRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) countSuccess(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

func (c *Client) countFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}
	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}
