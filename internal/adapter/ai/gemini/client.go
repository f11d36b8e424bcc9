// Package gemini implements domain.AIClient against the Gemini
// generateContent streaming API, adapted from the teacher's
// internal/adapter/ai/real.Client HTTP/backoff/otelhttp shape but targeting
// one provider family instead of OpenRouter/Groq/OpenAI side by side.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// Config bounds one Client's HTTP behavior.
type Config struct {
	APIKey  string
	BaseURL string // e.g. https://generativelanguage.googleapis.com

	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Client implements domain.AIClient against the Gemini API.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New constructs a Client. The transport is instrumented with otelhttp so
// every generation call produces a span, matching the teacher's
// obsOpenRouterChat/obsGroqChat pattern of wrapping the outbound transport
// rather than hand-rolling span creation per call site.
func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   2 * time.Minute,
		},
	}
}

// providerError implements quota.StatusCoder so internal/quota.ClassifyProviderError
// can classify it without string-matching.
type providerError struct {
	statusCode int
	retryAfter string
	body       string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("gemini: status=%d body=%s", e.statusCode, truncate(e.body, 256))
}
func (e *providerError) StatusCode() int        { return e.statusCode }
func (e *providerError) RetryAfterHeader() string { return e.retryAfter }
func (e *providerError) Body() string             { return e.body }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

// GenerateStructured issues a streamed generateContent call and returns a
// Stream over the response's incremental text chunks.
func (c *Client) GenerateStructured(ctx context.Context, model string, promptParts []string, cfg domain.GenerationConfig) (domain.Stream, error) {
	parts := make([]part, 0, len(promptParts))
	for _, p := range promptParts {
		parts = append(parts, part{Text: p})
	}
	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			MaxOutputTokens:  cfg.MaxOutputTokens,
			ResponseMIMEType: "application/json",
		},
	}
	if cfg.ResponseSchema != "" {
		reqBody.GenerationConfig.ResponseSchema = json.RawMessage(cfg.ResponseSchema)
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gemini.GenerateStructured: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", strings.TrimRight(c.cfg.BaseURL, "/"), model)

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)
		resp, err = c.hc.Do(req)
		if err != nil {
			return err // transient: dial/timeout, retry
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return &providerError{
				statusCode: resp.StatusCode,
				retryAfter: resp.Header.Get("Retry-After"),
				body:       string(body),
			}
		}
		return nil
	}
	bo := c.backoff(ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if pe, ok := err.(*providerError); ok {
			return nil, pe
		}
		return nil, fmt.Errorf("gemini.GenerateStructured: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		_ = resp.Body.Close()
		return nil, &providerError{
			statusCode: resp.StatusCode,
			retryAfter: resp.Header.Get("Retry-After"),
			body:       string(body),
		}
	}

	return newSSEStream(resp.Body), nil
}

func (c *Client) backoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = nonZero(c.cfg.InitialInterval, 2*time.Second)
	b.MaxInterval = nonZero(c.cfg.MaxInterval, 20*time.Second)
	b.MaxElapsedTime = nonZero(c.cfg.MaxElapsedTime, 180*time.Second)
	if c.cfg.Multiplier > 0 {
		b.Multiplier = c.cfg.Multiplier
	}
	return backoff.WithContext(b, ctx)
}

func nonZero(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// sseStream implements domain.Stream over a Gemini server-sent-events body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEStream(body io.ReadCloser) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: sc}
}

type streamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// Next reads the next SSE "data:" line carrying a text delta. done is true
// once the stream's final candidate reports a finish reason or the body is
// exhausted.
func (s *sseStream) Next() (string, bool, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if raw == "[DONE]" {
			return "", true, nil
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
			return "", false, fmt.Errorf("gemini: bad stream chunk: %w", err)
		}
		var text strings.Builder
		finished := false
		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				text.WriteString(p.Text)
			}
			if cand.FinishReason != "" {
				finished = true
			}
		}
		return text.String(), finished, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", true, err
	}
	return "", true, nil
}

func (s *sseStream) Close() error { return s.body.Close() }

var _ domain.AIClient = (*Client)(nil)
var _ domain.Stream = (*sseStream)(nil)
