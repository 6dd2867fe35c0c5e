package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/changeware/flowgate/internal/protocol"
)

func TestNewFactory(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{"anthropic", "anthropic", false},
		{"openai", "openai", false},
		{"local", "local", false},
		{"mock", "mock", false},
		{"", "mock", false},
		{"Anthropic", "anthropic", false},
		{"bard", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := New(Config{Provider: tt.provider})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for unknown provider")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", p.Name(), tt.wantName)
			}
		})
	}
}

func TestAnthropicParseResponse(t *testing.T) {
	raw := `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "Searching for the affected code."},
			{"type": "tool_use", "id": "toolu_01", "name": "search", "input": {"query": "banner"}},
			{"type": "tool_use", "id": "toolu_02", "name": "diff", "input": {"instruction": "update copy"}}
		]
	}`

	var resp anthropicResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	p := NewAnthropicProvider("key", "")
	completion := p.parseResponse(&resp)

	if completion.Content != "Searching for the affected code." {
		t.Errorf("content = %q", completion.Content)
	}
	if len(completion.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(completion.ToolCalls))
	}
	if completion.ToolCalls[0].Name != "search" || completion.ToolCalls[1].Name != "diff" {
		t.Errorf("tool call order lost: %v, %v", completion.ToolCalls[0].Name, completion.ToolCalls[1].Name)
	}

	var args map[string]interface{}
	if err := json.Unmarshal(completion.ToolCalls[0].Input, &args); err != nil {
		t.Fatalf("tool input not raw JSON: %v", err)
	}
	if args["query"] != "banner" {
		t.Errorf("input = %v", args)
	}
}

func TestAnthropicBuildRequest(t *testing.T) {
	p := NewAnthropicProvider("key", "claude-sonnet-4-20250514")

	req := p.buildRequest(&Request{
		System: "Classify the change",
		Messages: []protocol.Message{
			{Role: "system", Content: "should be dropped"},
			{Role: "user", Content: "update the banner"},
		},
		Tools: []protocol.Tool{
			{Name: "search", Description: "find code", InputSchema: map[string]interface{}{"type": "object"}},
		},
	})

	// System instructions travel in the dedicated field, never as a message.
	if req.System != "Classify the change" {
		t.Errorf("system = %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want the single user message", req.Messages)
	}
	if req.MaxTokens == 0 {
		t.Error("max tokens default not applied")
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "search" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		var req openaiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		// System prompt becomes the leading system message.
		if len(req.Messages) < 2 || req.Messages[0].Role != "system" || req.Messages[0].Content != "Classify the change" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if len(req.Tools) != 1 || req.Tools[0].Type != "function" || req.Tools[0].Function.Name != "search" {
			t.Errorf("tools = %+v", req.Tools)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "ui-safe",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "search", "arguments": "{\"query\":\"banner\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "gpt-4o", server.URL)
	completion, err := p.Complete(context.Background(), &Request{
		System:   "Classify the change",
		Messages: []protocol.Message{{Role: "user", Content: "restyle the banner"}},
		Tools:    []protocol.Tool{{Name: "search", Description: "find code", InputSchema: map[string]interface{}{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if completion.Content != "ui-safe" {
		t.Errorf("content = %q", completion.Content)
	}
	if len(completion.ToolCalls) != 1 || completion.ToolCalls[0].Name != "search" {
		t.Fatalf("tool calls = %+v", completion.ToolCalls)
	}
	var args map[string]interface{}
	if err := json.Unmarshal(completion.ToolCalls[0].Input, &args); err != nil || args["query"] != "banner" {
		t.Errorf("arguments = %v, %v", args, err)
	}
}

func TestOpenAIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "bad key", "type": "auth"}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("wrong", "gpt-4o", server.URL)
	_, err := p.Complete(context.Background(), &Request{
		Messages: []protocol.Message{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestParseOpenAIResponseEmptyChoices(t *testing.T) {
	if _, err := parseOpenAIResponse(&openaiResponse{}); err == nil {
		t.Error("expected error on empty choices")
	}
}

func TestLocalComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("local provider must not send credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "local-1",
			"model": "llama3.1",
			"choices": [{"message": {"role": "assistant", "content": "Acknowledged."}, "finish_reason": "stop"}]
		}`)
	}))
	defer server.Close()

	p := NewLocalProvider(server.URL, "")
	completion, err := p.Complete(context.Background(), &Request{
		System:   "You are helpful",
		Messages: []protocol.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completion.Content != "Acknowledged." {
		t.Errorf("content = %q", completion.Content)
	}
	if len(completion.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %v", completion.ToolCalls)
	}
}

func TestMockClassify(t *testing.T) {
	p := NewMockProvider()

	tests := []struct {
		instruction string
		want        string
	}{
		{"Fix the typo in the banner", "data-only"},
		{"Update the label wording", "data-only"},
		{"Change the brand color to teal", "ui-safe"},
		{"Tighten the layout spacing", "ui-safe"},
		{"Rework the checkout flow", "unrestricted"},
	}

	for _, tt := range tests {
		t.Run(tt.instruction, func(t *testing.T) {
			completion, err := p.Complete(context.Background(), &Request{
				System:   "Classify the requested change into exactly one scope level",
				Messages: []protocol.Message{{Role: "user", Content: tt.instruction}},
			})
			if err != nil {
				t.Fatalf("Complete failed: %v", err)
			}
			if completion.Content != tt.want {
				t.Errorf("classify(%q) = %q, want %q", tt.instruction, completion.Content, tt.want)
			}
		})
	}
}

func TestMockDefaultCompletion(t *testing.T) {
	p := NewMockProvider()
	completion, err := p.Complete(context.Background(), &Request{
		System:   "Analyze the failures",
		Messages: []protocol.Message{{Role: "user", Content: "tests failed"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completion.Content == "" {
		t.Error("expected a canned completion")
	}
}
