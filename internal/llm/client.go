package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"kosha/internal/eventbus"
	logx "kosha/pkg/logx"
)

var (
	// ErrNoContent means the model answered without usable text (empty
	// candidates or a blocked prompt). Callers treat it as a soft failure.
	ErrNoContent     = errors.New("llm: no content generated")
	ErrNotConfigured = errors.New("llm: api key not configured")
)

const (
	DefaultBaseURL      = "https://generativelanguage.googleapis.com"
	DefaultSummaryModel = "gemini-2.5-flash"
	DefaultChatModel    = "gemini-2.5-flash-lite"

	maxErrorBody = 4 << 10
)

type Config struct {
	APIKey       string
	BaseURL      string
	SummaryModel string
	ChatModel    string
	// Timeout bounds one HTTP attempt. 0 disables it.
	Timeout time.Duration

	RetryMax        int
	BreakerFailures int
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.SummaryModel == "" {
		c.SummaryModel = DefaultSummaryModel
	}
	if c.ChatModel == "" {
		c.ChatModel = DefaultChatModel
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 2
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// RequestEvent is the Data of llm.request bus events.
type RequestEvent struct {
	Model    string        `json:"model"`
	Outcome  string        `json:"outcome"` // ok | no_content | error | breaker_open
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

type Client struct {
	mu   sync.RWMutex
	cfg  Config
	http *http.Client
	cb   *gobreaker.CircuitBreaker

	log logx.Logger
	bus eventbus.Bus

	// retryBase is shortened by tests.
	retryBase time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log, bus: bus, retryBase: 500 * time.Millisecond}
	c.Apply(cfg)
	return c
}

// Apply swaps in new settings. The breaker is rebuilt only when its
// settings change.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.cfg
	c.cfg = cfg
	c.http = &http.Client{Timeout: cfg.Timeout}
	if c.cb == nil || prev.BreakerFailures != cfg.BreakerFailures || prev.BreakerCooldown != cfg.BreakerCooldown {
		c.cb = c.newBreaker(cfg)
	}
}

func (c *Client) newBreaker(cfg Config) *gobreaker.CircuitBreaker {
	trip := uint32(cfg.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		// Client errors and empty answers say nothing about provider health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || errors.Is(err, ErrNoContent) || (errors.As(err, &se) && !se.retryable())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state change", logx.String("name", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
}

func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.APIKey != ""
}

// GenerateSummary runs prompt against the summary model.
func (c *Client) GenerateSummary(ctx context.Context, prompt string) (string, error) {
	c.mu.RLock()
	model := c.cfg.SummaryModel
	c.mu.RUnlock()
	return c.generate(ctx, model, []content{userTurn(prompt)})
}

// Ask sends a single question to the chat model.
func (c *Client) Ask(ctx context.Context, query string) (string, error) {
	c.mu.RLock()
	model := c.cfg.ChatModel
	c.mu.RUnlock()
	return c.generate(ctx, model, []content{userTurn(query)})
}

// Chat continues a conversation. history holds prior turns, oldest first.
func (c *Client) Chat(ctx context.Context, history []Turn, msg string) (string, error) {
	c.mu.RLock()
	model := c.cfg.ChatModel
	c.mu.RUnlock()
	contents := make([]content, 0, len(history)+1)
	for _, t := range history {
		contents = append(contents, content{Role: t.Role, Parts: []part{{Text: t.Text}}})
	}
	contents = append(contents, userTurn(msg))
	return c.generate(ctx, model, contents)
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return fmt.Sprintf("gemini: http %d: %s", e.code, e.msg) }

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func (c *Client) generate(ctx context.Context, model string, contents []content) (string, error) {
	c.mu.RLock()
	cfg, hc, cb, base := c.cfg, c.http, c.cb, c.retryBase
	c.mu.RUnlock()
	if cfg.APIKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(generateRequest{Contents: contents, SafetySettings: safetyBlockNone})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", cfg.BaseURL, model)

	attempts := 0
	op := func() (string, error) {
		attempts++
		out, err := cb.Execute(func() (any, error) { return c.post(ctx, hc, url, cfg.APIKey, body) })
		if err != nil {
			var se *statusError
			switch {
			case errors.Is(err, ErrNoContent), errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return "", backoff.Permanent(err)
			case errors.As(err, &se) && !se.retryable():
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return out.(string), nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = 20 * base
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.RetryMax)), ctx)

	start := time.Now()
	text, err := backoff.RetryNotifyWithData(op, b, func(err error, wait time.Duration) {
		c.log.Warn("gemini request failed; retrying", logx.String("model", model), logx.Duration("backoff", wait), logx.Err(err))
	})

	ev := RequestEvent{Model: model, Outcome: "ok", Duration: time.Since(start), Attempts: attempts}
	switch {
	case err == nil:
	case errors.Is(err, ErrNoContent):
		ev.Outcome = "no_content"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		ev.Outcome = "breaker_open"
	default:
		ev.Outcome = "error"
	}
	eventbus.Emit(c.bus, eventbus.LLMRequest, ev)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", model, err)
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, url, key string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		return "", &statusError{code: resp.StatusCode, msg: msg}
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", ErrNoContent, gr.PromptFeedback.BlockReason)
	}
	text := gr.text()
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}
