package manifest

import (
	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/storage"
)

// FromConfig returns the API client described by cfg, fronted by a cache in
// store when caching is enabled and a store is given.
func FromConfig(cfg config.ManifestConfig, store storage.Store, logger *logging.Logger) Source {
	client := NewClient(cfg.APIURL, cfg.TimeoutDuration(), logger)
	client.Insecure = cfg.Insecure
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}
	if !cfg.CacheEnabled || store == nil {
		return client
	}
	return NewCache(store, client, cfg.CacheTTLDuration(), logger)
}
