// Provider registry.
// Each adapter file registers its factory under a provider type in init(),
// so a new backend is a new file and the lookup below never changes.

package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// Provider types.
const (
	TypeOpenAI      = "openai"
	TypeAzureOpenAI = "azure_openai"
	TypeWatsonx     = "watsonx"
	TypeRHOAIVLLM   = "rhoai_vllm"
	TypeRHELAIVLLM  = "rhelai_vllm"
	TypeOllama      = "ollama"
	TypeFake        = "fake_provider"
)

// ProviderFactory builds an unloaded Provider for one model.
type ProviderFactory func(model string, params Params, cfg config.ProviderConfig, opts Options) Provider

var (
	registryMu sync.RWMutex
	registry   = map[string]ProviderFactory{}
)

// Register adds (or replaces) the factory for a provider type.
func Register(providerType string, f ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = f
}

// Lookup returns the factory for providerType.
func Lookup(providerType string) (ProviderFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: provider type %q not registered (available: %v)", ErrProviderConfiguration, providerType, registeredTypesLocked())
	}
	return f, nil
}

// RegisteredTypes returns the registered provider types, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registeredTypesLocked()
}

func registeredTypesLocked() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
