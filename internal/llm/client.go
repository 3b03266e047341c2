// Package llm performs single prompt→JSON round-trips against the external
// model endpoint. The retry loop lives here and nowhere else: agents only
// ever see a validated object or a terminal error.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bookforge/internal/domain"
)

// Temperature presets. Every agent declares one of the three regimes.
const (
	TempPrecise  = 0.3
	TempBalanced = 0.5
	TempCreative = 0.7
)

const (
	defaultMaxAttempts = 5
	defaultTimeout     = 120 * time.Second
	messagesPath       = "/v1/messages"
)

// Caller identifies who is paying for a call; every field lands in the cost
// record.
type Caller struct {
	Agent          string
	UserID         string
	ManuscriptID   string
	OperationGroup string
	Operation      string
}

// Request describes one model call.
type Request struct {
	Prompt         string
	Temperature    float64
	MaxTokens      int
	RequiredFields []string
	// Validate runs after required-field checking, inside the retry loop.
	// A *domain.SchemaError return counts as a retryable attempt failure.
	Validate func(out map[string]any) error
	Caller   Caller
}

// CostSink accepts one usage ledger entry per successful call.
type CostSink interface {
	Record(ctx context.Context, rec domain.CostRecord) error
}

// Options configures the client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Version     string
	HTTPClient  *http.Client
	MaxAttempts int
	Pricing     PriceTable
	Costs       CostSink
	Logger      *zerolog.Logger

	// Sleep is the back-off suspension point; tests inject a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client is the LLM call layer. All fifteen agents route through Complete.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	version     string
	httpClient  *http.Client
	maxAttempts int
	pricing     PriceTable
	costs       CostSink
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// New constructs a client with sane defaults.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := opts.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	version := opts.Version
	if version == "" {
		version = "2023-06-01"
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	pricing := opts.Pricing
	if pricing == nil {
		pricing = DefaultPriceTable()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		model:       model,
		version:     version,
		httpClient:  httpClient,
		maxAttempts: maxAttempts,
		pricing:     pricing,
		costs:       opts.Costs,
		logger:      logger,
		sleep:       sleep,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type messageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// attemptError carries the classification an attempt needs for the retry
// decision.
type attemptError struct {
	status    int
	retryable bool
	err       error
}

func (e *attemptError) Error() string { return e.err.Error() }

// Complete performs the call with up to five attempts and 2^attempt second
// back-off between retryable failures. On success the parsed object has
// every required field and has passed the caller's validator; the cost of
// the successful attempt is recorded.
func (c *Client) Complete(ctx context.Context, req Request) (map[string]any, error) {
	var last *attemptError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		out, err := c.attempt(ctx, req)
		if err == nil {
			return out, nil
		}

		var ae *attemptError
		if !errors.As(err, &ae) {
			ae = &attemptError{retryable: true, err: err}
		}
		last = ae
		c.logger.Warn().
			Str("agent", req.Caller.Agent).
			Int("attempt", attempt).
			Int("status", ae.status).
			Err(ae.err).
			Msg("llm: attempt failed")

		if !ae.retryable {
			return nil, &domain.LLMError{Agent: req.Caller.Agent, Attempts: attempt, StatusCode: ae.status, Err: ae.err}
		}
		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, backoff(attempt)); err != nil {
			return nil, &domain.LLMError{Agent: req.Caller.Agent, Attempts: attempt, StatusCode: ae.status, Err: err}
		}
	}
	return nil, &domain.LLMError{Agent: req.Caller.Agent, Attempts: c.maxAttempts, StatusCode: last.status, Err: last.err}
}

// backoff returns the sleep before retrying after the given 1-based attempt:
// 2s, 4s, 8s, 16s.
func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func (c *Client) attempt(ctx context.Context, req Request) (map[string]any, error) {
	payload := messageRequest{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &attemptError{retryable: false, err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptError{retryable: false, err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.version)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &attemptError{retryable: true, err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("model endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return nil, &attemptError{status: resp.StatusCode, retryable: retryableStatus(resp.StatusCode), err: err}
	}

	var decoded messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &attemptError{status: resp.StatusCode, retryable: true, err: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Content) == 0 {
		return nil, &attemptError{status: resp.StatusCode, retryable: true, err: errors.New("empty content")}
	}

	out, err := ExtractJSON(decoded.Content[0].Text)
	if err != nil {
		return nil, &attemptError{status: resp.StatusCode, retryable: true, err: err}
	}
	if field := missingField(out, req.RequiredFields); field != "" {
		return nil, &attemptError{
			status:    resp.StatusCode,
			retryable: true,
			err:       &domain.SchemaError{Agent: req.Caller.Agent, Reason: fmt.Sprintf("missing required field %q", field)},
		}
	}
	if req.Validate != nil {
		if err := req.Validate(out); err != nil {
			return nil, &attemptError{status: resp.StatusCode, retryable: true, err: err}
		}
	}

	c.recordCost(ctx, req.Caller, decoded.Usage.InputTokens, decoded.Usage.OutputTokens)
	return out, nil
}

// retryableStatus implements the retry contract: 429 and 5xx retry, every
// other non-200 fails terminally.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) recordCost(ctx context.Context, caller Caller, inputTokens, outputTokens int) {
	if c.costs == nil {
		return
	}
	rec := domain.CostRecord{
		UserID:         caller.UserID,
		ManuscriptID:   caller.ManuscriptID,
		OperationGroup: caller.OperationGroup,
		Operation:      caller.Operation,
		Agent:          caller.Agent,
		Model:          c.model,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		CostUSD:        c.pricing.Cost(c.model, inputTokens, outputTokens),
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.costs.Record(ctx, rec); err != nil {
		// Usage accounting must never fail a model call.
		c.logger.Warn().Err(err).Str("agent", caller.Agent).Msg("llm: cost record failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
