package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/storage"
)

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Manifest
	cfg.APIURL = "https://mirror.example/checksums/"
	cfg.Insecure = true
	cfg.UserAgent = "coresum-test"
	cfg.Timeout = "5s"

	client, ok := FromConfig(cfg, nil, logging.Discard()).(*Client)
	require.True(t, ok, "no store means no cache")
	assert.Equal(t, "https://mirror.example/checksums/", client.BaseURL)
	assert.True(t, client.Insecure)
	assert.Equal(t, "coresum-test", client.UserAgent)
	assert.Equal(t, 5*time.Second, client.Client.Timeout)

	store, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	defer store.Close()
	_, ok = FromConfig(cfg, store, logging.Discard()).(*Cache)
	assert.True(t, ok)

	cfg.CacheEnabled = false
	_, ok = FromConfig(cfg, store, logging.Discard()).(*Client)
	assert.True(t, ok)
}
