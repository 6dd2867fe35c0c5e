package provider

import (
	"context"
	"strings"
)

// MockProvider implements Provider without credentials or network. It
// returns canned messages, and on classification requests it answers with a
// scope level derived from the request text so runs classify deterministically.
type MockProvider struct{}

// NewMockProvider creates the mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string {
	return "mock"
}

// Complete returns a canned completion
func (p *MockProvider) Complete(_ context.Context, req *Request) (*Completion, error) {
	if strings.Contains(strings.ToLower(req.System), "classif") {
		return &Completion{Content: classifyScope(lastUserContent(req))}, nil
	}
	return &Completion{Content: "Acknowledged."}, nil
}

// classifyScope picks a scope level from keywords in the instruction. Copy
// and content edits are data-only, presentation edits are ui-safe, anything
// else is unrestricted.
func classifyScope(instruction string) string {
	text := strings.ToLower(instruction)
	switch {
	case containsAny(text, "copy", "text", "wording", "label", "typo", "content"):
		return "data-only"
	case containsAny(text, "style", "color", "colour", "layout", "font", "spacing", "css"):
		return "ui-safe"
	default:
		return "unrestricted"
	}
}

func lastUserContent(req *Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
