// Package mcp connects the engine's tool invoker contract to external MCP
// servers, so pipeline tools (linters, test runners, sandbox managers, flag
// services) can live out of process while the engine sees only uniform tool
// call records.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/changeware/flowgate/internal/protocol"
)

// ServerConfig configures a single MCP server process
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// Hub manages connections to multiple MCP servers and implements the
// engine's tool invoker contract over them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
}

type connection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{connections: make(map[string]*connection)}
}

// Connect launches an MCP server over stdio, initializes it and lists its
// tools.
func (h *Hub) Connect(ctx context.Context, name string, config ServerConfig) error {
	if config.Disabled {
		return nil
	}

	env := make([]string, 0, len(config.Env))
	for k, v := range config.Env {
		env = append(env, k+"="+v)
	}
	mcpClient, err := client.NewStdioMCPClient(config.Command, env, config.Args...)
	if err != nil {
		return fmt.Errorf("create MCP client for %s: %w", name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start MCP client for %s: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = "2024-11-05"
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "flowgate",
		Version: "1.0.0",
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize MCP client for %s: %w", name, err)
	}

	ctxTools, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	listResult, err := mcpClient.ListTools(ctxTools, mcp.ListToolsRequest{})
	if err != nil {
		log.Printf("[MCP] Failed to list tools for %s: %v", name, err)
	}
	tools := []mcp.Tool{}
	if listResult != nil {
		tools = listResult.Tools
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[name] = &connection{name: name, client: mcpClient, tools: tools}
	log.Printf("[MCP] Connected to server %s (%d tools)", name, len(tools))
	return nil
}

// Definitions returns every tool from every connected server
func (h *Hub) Definitions() []protocol.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var defs []protocol.Tool
	for _, conn := range h.connections {
		for _, t := range conn.tools {
			// Convert InputSchema using JSON marshaling for safety
			var schema map[string]interface{}
			schemaBytes, _ := json.Marshal(t.InputSchema)
			_ = json.Unmarshal(schemaBytes, &schema)

			defs = append(defs, protocol.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			})
		}
	}
	return defs
}

// Invoke routes a tool call to whichever server declares the tool and
// records the outcome.
func (h *Hub) Invoke(ctx context.Context, name string, args map[string]interface{}) protocol.ToolCallRecord {
	rec := protocol.ToolCallRecord{
		ID:        uuid.NewString(),
		Tool:      name,
		Args:      args,
		Timestamp: time.Now(),
	}

	conn := h.findTool(name)
	if conn == nil {
		rec.Error = fmt.Sprintf("unknown tool: %s", name)
		return rec
	}

	ctxCall, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	result, err := conn.client.CallTool(ctxCall, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	rec.Duration = time.Since(start)

	if err != nil {
		rec.Error = err.Error()
		return rec
	}

	text := flattenContent(result)
	rec.Result = parseResult(text)
	if result.IsError {
		rec.Error = text
		return rec
	}
	rec.OK = true
	return rec
}

func (h *Hub) findTool(name string) *connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.connections {
		for _, t := range conn.tools {
			if t.Name == name {
				return conn
			}
		}
	}
	return nil
}

// Close closes all connections
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.connections {
		conn.client.Close()
	}
	return nil
}

// flattenContent joins the textual content blocks of a call result.
// Non-text blocks are noted, not dropped silently.
func flattenContent(result *mcp.CallToolResult) string {
	var sb strings.Builder

	// Marshal/Unmarshal result content to inspect it generically
	contentBytes, _ := json.Marshal(result.Content)
	var contentList []map[string]interface{}
	_ = json.Unmarshal(contentBytes, &contentList)

	for _, content := range contentList {
		switch content["type"] {
		case "text":
			if text, ok := content["text"].(string); ok {
				sb.WriteString(text)
			}
		case "image":
			sb.WriteString("[image returned]")
		case "resource":
			sb.WriteString("[resource returned]")
		}
	}
	return sb.String()
}

// parseResult turns a JSON object payload into a map so guard conditions
// can reach into its fields; anything else stays a plain string.
func parseResult(text string) interface{} {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return m
		}
	}
	return text
}
