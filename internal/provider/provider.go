package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/changeware/flowgate/internal/protocol"
)

// Provider is a completion backend reachable through one normalized
// contract. Exactly one concrete provider is selected per run configuration;
// the engine never branches on which one is active.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
	Name() string
}

// Request is a normalized completion request
type Request struct {
	System    string             `json:"system,omitempty"`
	Messages  []protocol.Message `json:"messages"`
	Tools     []protocol.Tool    `json:"tools,omitempty"`
	Model     string             `json:"model,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
}

// Completion is the normalized completion response: optional text content
// plus any tool calls the backend requested, in the order it returned them.
type Completion struct {
	Content   string                  `json:"content,omitempty"`
	ToolCalls []protocol.ToolUseBlock `json:"tool_calls,omitempty"`
}

// Config holds provider selection and credentials
type Config struct {
	Provider string `json:"provider"` // anthropic, openai, local, mock
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"` // for custom endpoints
}

// New creates a provider based on config
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "local":
		return NewLocalProvider(cfg.BaseURL, cfg.Model), nil
	case "mock", "":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// httpClient is a shared HTTP client with a long timeout for AI requests
var httpClient = &http.Client{
	Timeout: 10 * time.Minute,
	Transport: &http.Transport{
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
}

// doRequest performs an HTTP request, retrying transient network failures
// and 5xx responses with exponential backoff.
func doRequest(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*http.Response, error) {
	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	retryDelay := 1 * time.Second
	maxRetries := 3

	for i := 0; i <= maxRetries; i++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if i < maxRetries {
				log.Printf("[Provider] Request failed: %v. Retrying in %v...", err, retryDelay)
				time.Sleep(retryDelay)
				retryDelay *= 2
				continue
			}
			return nil, err
		}

		if resp.StatusCode >= 500 && i < maxRetries {
			log.Printf("[Provider] API returned %d. Retrying in %v...", resp.StatusCode, retryDelay)
			resp.Body.Close()
			time.Sleep(retryDelay)
			retryDelay *= 2
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded")
}
