package format

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/realtime-asr-service/internal/pipeline"
)

// Config contains formatting client configuration
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Prompt is the system instruction describing the desired output.
	Prompt string
	// StyleGuide is appended to the system prompt when set.
	StyleGuide  string
	Temperature float32
	Timeout     time.Duration
}

// ClientStats represents formatting client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Client polishes raw transcripts through a chat-completion API.
type Client struct {
	config Config
	api    *openai.Client

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a formatting client
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if config.Prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	apiConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		apiConfig.BaseURL = config.BaseURL
	}

	return &Client{
		config: config,
		api:    openai.NewClientWithConfig(apiConfig),
	}, nil
}

// Format rewrites raw transcription text per the configured prompt and
// style guide. Errors carry a pipeline.StageError classification.
func (c *Client) Format(ctx context.Context, text string) (string, error) {
	c.countRequest()
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		c.countFailure()
		return "", pipeline.NewStageError("format", classify(err), err)
	}
	if len(resp.Choices) == 0 {
		c.countFailure()
		return "", pipeline.NewStageError("format", pipeline.KindUnknown,
			fmt.Errorf("empty completion response"))
	}

	c.countSuccess(time.Since(startTime))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) systemPrompt() string {
	if c.config.StyleGuide == "" {
		return c.config.Prompt
	}
	return c.config.Prompt + "\n\nStyle guide:\n" + c.config.StyleGuide
}

// classify maps a go-openai error to the retry taxonomy
func classify(err error) pipeline.Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return pipeline.ClassifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return pipeline.ClassifyStatus(reqErr.HTTPStatusCode)
	}
	return pipeline.ClassifyTransport(err)
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
	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		AvgResponseTime: c.avgResponseTime,
	}
}
