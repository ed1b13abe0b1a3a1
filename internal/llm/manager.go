package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Manager manages reasoning providers
type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewManager creates a new provider manager
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
	}
}

// RegisterProvider registers a provider
func (m *Manager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[provider.Name()] = provider
}

// GetProvider gets a provider by name
func (m *Manager) GetProvider(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	provider, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return provider, nil
}

// ListProviders returns all registered providers sorted by name
func (m *Manager) ListProviders() []ProviderInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(m.providers))
	for name, provider := range m.providers {
		infos = append(infos, ProviderInfo{
			Name:          name,
			Models:        provider.Models(),
			SupportsTools: provider.SupportsTools(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Chat sends a chat request to the appropriate provider
func (m *Manager) Chat(ctx context.Context, providerName string, req *ChatRequest) (<-chan StreamChunk, error) {
	provider, err := m.GetProvider(providerName)
	if err != nil {
		return nil, err
	}
	return provider.Chat(ctx, req)
}

// Source returns a ChunkSource bound to one provider.
func (m *Manager) Source(providerName string) ChunkSource {
	return func(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
		return m.Chat(ctx, providerName, req)
	}
}

// ProviderInfo contains information about a provider
type ProviderInfo struct {
	Name          string  `json:"name"`
	Models        []Model `json:"models"`
	SupportsTools bool    `json:"supports_tools"`
}
