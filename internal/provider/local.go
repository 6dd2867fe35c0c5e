package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultLocalURL = "http://localhost:11434/v1/chat/completions"

// LocalProvider implements Provider for locally hosted OpenAI-compatible
// chat servers (Ollama, LM Studio, llama.cpp). No credentials; tool support
// varies by model, so a completion without tool calls is the common case.
type LocalProvider struct {
	baseURL string
	model   string
}

// NewLocalProvider creates a provider for a local chat endpoint
func NewLocalProvider(baseURL, model string) *LocalProvider {
	if baseURL == "" {
		baseURL = defaultLocalURL
	} else if !strings.HasSuffix(baseURL, "/chat/completions") {
		baseURL = strings.TrimSuffix(baseURL, "/") + "/v1/chat/completions"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &LocalProvider{baseURL: baseURL, model: model}
}

func (p *LocalProvider) Name() string {
	return "local"
}

// Complete performs a non-streaming completion against the local server
func (p *LocalProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openaiMessage{Role: msg.Role, Content: msg.Content})
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(&openaiRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	resp, err := doRequest(ctx, "POST", p.baseURL, headers, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return parseOpenAIResponse(&parsed)
}
