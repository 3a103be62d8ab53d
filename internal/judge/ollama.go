// Package judge provides relevance judges for the confidence gate's mid
// band. OllamaJudge asks a small local model a yes/no question.
package judge

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

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/gate"
)

// Default judge configuration.
const (
	DefaultModel   = "qwen3:0.6b"
	DefaultHost    = "http://localhost:11434"
	DefaultTimeout = 10 * time.Second
)

// Config configures the Ollama judge.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration

	// MaxRetries for 5xx answers and connection errors (default: 1).
	MaxRetries int
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaJudge answers relevance prompts with a local Ollama model.
type OllamaJudge struct {
	client *http.Client
	config Config
	retry  verrors.RetryConfig
}

// New creates an Ollama judge. No request is made until Judge is called.
func New(cfg Config) *OllamaJudge {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	retry := verrors.DefaultRetryConfig()
	retry.MaxRetries = 1
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	retry.ShouldRetry = retryable

	return &OllamaJudge{
		client: &http.Client{},
		config: cfg,
		retry:  retry,
	}
}

// Func adapts the judge to gate.JudgeFunc.
func (j *OllamaJudge) Func() gate.JudgeFunc {
	return j.Judge
}

// Judge sends prompt to /api/generate and returns the model's reply.
func (j *OllamaJudge) Judge(ctx context.Context, prompt string) (string, error) {
	reply, err := verrors.RetryWithResult(ctx, j.retry, func() (string, error) {
		reqCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
		return j.generate(reqCtx, prompt)
	})
	if err != nil {
		return "", verrors.New(verrors.ErrCodeJudgeUnavailable, "relevance judge request failed", err).
			WithDetail("model", j.config.Model).
			WithSuggestion(fmt.Sprintf("Run 'ollama pull %s' or unset gate.judge", j.config.Model))
	}
	return strings.TrimSpace(reply), nil
}

// httpStatusError is a non-200 answer from Ollama.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func (j *OllamaJudge) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   j.config.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return genResp.Response, nil
}
