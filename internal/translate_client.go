package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TranslationProvider turns text in the source language into target-language
// text. Implementations must be safe for concurrent use. A nil provider is
// valid everywhere one is accepted: callers fall back to transliteration.
type TranslationProvider interface {
	Translate(ctx context.Context, text string) (string, error)
}

// TranslateClient calls the Argos translation REST service, which speaks
// the LibreTranslate dialect: POST {endpoint}/translate with
// {"q","source","target"} returning {"translatedText"} and {"error"} with a
// non-200 status on bad input. Calls are bounded by the configured timeout,
// retried a small fixed number of times, and short-circuited while the
// breaker is open so a dead provider never stalls the migration queue.
type TranslateClient struct {
	endpoint   string
	sourceLang string
	targetLang string
	maxRetries int
	httpClient *http.Client
	breaker    *CircuitBreaker
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// NewTranslateClient creates a client for the given endpoint. The breaker
// may be nil, which disables short-circuiting.
func NewTranslateClient(endpoint, sourceLang, targetLang string, timeout time.Duration, maxRetries int, breaker *CircuitBreaker) *TranslateClient {
	return &TranslateClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		sourceLang: sourceLang,
		targetLang: targetLang,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// Translate returns the translated text, or an error when the provider is
// unreachable, the breaker is open, or the response is unusable. Callers
// treat every error as a signal to fall back, never as fatal.
func (c *TranslateClient) Translate(ctx context.Context, text string) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("translation endpoint not configured")
	}
	if c.breaker.IsOpen() {
		return "", fmt.Errorf("translation circuit breaker open")
	}

	payload, err := json.Marshal(translateRequest{Q: text, Source: c.sourceLang, Target: c.targetLang})
	if err != nil {
		return "", fmt.Errorf("marshal translate request: %w", err)
	}

	var lastErr error
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		translated, err := c.doTranslate(ctx, payload)
		if err == nil {
			c.breaker.RecordSuccess()
			return translated, nil
		}
		lastErr = err
		zap.S().Debugw("translation attempt failed",
			"attempt", attempt+1, "error", err)
	}

	c.breaker.RecordFailure()
	return "", lastErr
}

func (c *TranslateClient) doTranslate(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read translation response: %w", err)
	}
	var parsed translateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("translation service returned %d", resp.StatusCode)
		}
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	// Bad input comes back as a non-200 with {"error"} in the body.
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != "" {
			return "", fmt.Errorf("translation service returned %d: %s", resp.StatusCode, parsed.Error)
		}
		return "", fmt.Errorf("translation service returned %d", resp.StatusCode)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("translation service error: %s", parsed.Error)
	}
	if strings.TrimSpace(parsed.TranslatedText) == "" {
		return "", fmt.Errorf("translation service returned empty text")
	}
	return parsed.TranslatedText, nil
}

// Health probes the service's health endpoint. Used at startup to log
// whether the provider path is live; a failure only degrades, never blocks.
func (c *TranslateClient) Health(ctx context.Context) error {
	if c.endpoint == "" {
		return fmt.Errorf("translation endpoint not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("translation health returned %d", resp.StatusCode)
	}
	return nil
}
