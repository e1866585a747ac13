package registry

import (
	"testing"

	"github.com/milhy545/adaptive-router/internal/config"
	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) kvstore.Store {
	t.Helper()
	store, err := kvstore.New(models.StoreConfig{Type: models.StoreFile, Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig() *config.Config {
	return &config.Config{
		Router: models.RouterConfig{
			FallbackChain: []string{"local-ollama", "claude"},
		},
		Providers: map[string]models.ProviderConfig{
			"local-ollama": {
				Kind:    models.KindOpenAI,
				BaseURL: "http://localhost:11434/v1",
				Model:   "llama3",
				Local:   true,
			},
			"claude": {
				Kind:   models.KindAnthropic,
				APIKey: "sk-test",
				Model:  "claude-sonnet-4-20250514",
			},
		},
	}
}

func TestRegistryBuildsAllProviders(t *testing.T) {
	r, err := New(testConfig(), newTestStore(t))
	require.NoError(t, err)

	entry, ok := r.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", entry.ID)
	assert.NotNil(t, entry.Provider)
	assert.NotNil(t, entry.Breaker)
	assert.NotNil(t, entry.Limiter)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryChainOrder(t *testing.T) {
	r, err := New(testConfig(), newTestStore(t))
	require.NoError(t, err)

	chain := r.Chain()
	require.Len(t, chain, 2)
	assert.Equal(t, "local-ollama", chain[0].ID)
	assert.Equal(t, "claude", chain[1].ID)
}

func TestRegistryFailsFastOnBadProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Providers["broken"] = models.ProviderConfig{Kind: "cohere", Model: "command"}

	_, err := New(cfg, newTestStore(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRegistryConfigs(t *testing.T) {
	r, err := New(testConfig(), newTestStore(t))
	require.NoError(t, err)

	configs := r.Configs()
	require.Len(t, configs, 2)
	assert.True(t, configs["local-ollama"].Local)
}
