package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ProviderSettings selects the completion backend for agent steps
type ProviderSettings struct {
	Provider string            `json:"provider"` // anthropic, openai, local, mock
	Model    string            `json:"model"`
	APIKey   string            `json:"api_key"`            // legacy single key
	APIKeys  map[string]string `json:"api_keys,omitempty"` // per-provider keys
	BaseURL  string            `json:"base_url,omitempty"` // custom/local endpoints
}

// ApprovalSettings configures the remote human-decision surfaces
type ApprovalSettings struct {
	TelegramToken    string  `json:"telegram_token,omitempty"`
	TelegramChatID   int64   `json:"telegram_chat_id,omitempty"`
	AllowedUserIDs   []int64 `json:"allowed_user_ids,omitempty"`
	DiscordToken     string  `json:"discord_token,omitempty"`
	DiscordChannelID string  `json:"discord_channel_id,omitempty"`
}

// BridgeSettings configures the websocket daemon
type BridgeSettings struct {
	Port int `json:"port"`
}

// MCPServerConfig configures an external MCP tool server
type MCPServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// ToolSettings configures where tool invocations go
type ToolSettings struct {
	MCPServers map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
}

type Settings struct {
	Provider  ProviderSettings `json:"provider"`
	Approvals ApprovalSettings `json:"approvals"`
	Bridge    BridgeSettings   `json:"bridge"`
	Tools     ToolSettings     `json:"tools"`
}

// Store persists settings at ~/.flowgate/settings.json
type Store struct {
	mu       sync.RWMutex
	path     string
	settings *Settings
}

// NewStore opens (or creates) the settings store. Missing settings fall back
// to mock mode so a fresh install can run the pipeline without credentials.
func NewStore() (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home dir: %w", err)
	}

	configDir := filepath.Join(homeDir, ".flowgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	s := &Store{
		path:     filepath.Join(configDir, "settings.json"),
		settings: defaultSettings(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultSettings() *Settings {
	settings := &Settings{
		Provider: ProviderSettings{Provider: "mock"},
		Bridge:   BridgeSettings{Port: 5560},
	}

	// Dev convenience: env keys select a real provider without a settings file.
	if key := os.Getenv("FLOWGATE_ANTHROPIC_KEY"); key != "" {
		settings.Provider = ProviderSettings{Provider: "anthropic", APIKey: key}
	} else if key := os.Getenv("FLOWGATE_OPENAI_KEY"); key != "" {
		settings.Provider = ProviderSettings{Provider: "openai", APIKey: key}
	}
	return settings
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // defaults stand
		}
		return fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, s.settings); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	return nil
}

// Get returns a copy of the current settings
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.settings
}

// Update applies a mutation and persists the result
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.settings)
	return s.saveInternal()
}

func (s *Store) saveInternal() error {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// APIKeyFor returns the key for a provider, falling back to the legacy
// single key field.
func (p ProviderSettings) APIKeyFor(providerName string) string {
	if key, ok := p.APIKeys[providerName]; ok && key != "" {
		return key
	}
	return p.APIKey
}
