// Package llm composes completion requests and talks to an OpenAI-compatible
// chat completions API.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/logging"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4096

// ErrEmptyCompletion is returned when the API answers without any choices.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// UpstreamError is a non-success HTTP answer from the completion API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion api returned status %d: %s", e.StatusCode, e.Body)
}

// Completion is a successful answer.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Options configures a Client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client issues one chat completion per call.
type Client struct {
	api    chatCompleter
	model  string
	logger *logrus.Entry
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("completion api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("completion model is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	cfg.HTTPClient = statusDoer{client: httpClient}

	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  opts.Model,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends messages and returns the first choice. Non-success statuses
// come back as *UpstreamError.
func (c *Client) Complete(ctx context.Context, messages []Message) (Completion, error) {
	if c == nil || c.api == nil {
		return Completion{}, errors.New("completion client is not initialized")
	}
	if ctx == nil {
		return Completion{}, errors.New("context is required")
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, upstreamFrom(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, ErrEmptyCompletion
	}

	c.logger.WithFields(logging.Fields{
		"event":             "completion_done",
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"duration_ms":       time.Since(started).Milliseconds(),
	}).Debug("completion finished")

	return Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// upstreamFrom normalizes the SDK's error shapes into *UpstreamError where a
// status code is known.
func upstreamFrom(err error) error {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &UpstreamError{StatusCode: reqErr.HTTPStatusCode, Body: body}
	}

	return fmt.Errorf("create chat completion: %w", err)
}

// statusDoer turns non-2xx responses into *UpstreamError carrying the raw
// body before the SDK parses them.
type statusDoer struct {
	client *http.Client
}

func (d statusDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &UpstreamError{
		StatusCode: resp.StatusCode,
		Body:       string(bytes.TrimSpace(body)),
	}
}
