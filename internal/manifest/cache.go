package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/storage"
)

const manifestsBucket = "manifests"

// CachedManifest is the stored form of a downloaded manifest.
type CachedManifest struct {
	Version   string    `json:"version"`
	Locale    string    `json:"locale"`
	FetchedAt time.Time `json:"fetched_at"`
	Checksums *Manifest `json:"checksums"`
}

// Cache keeps downloaded manifests in a key/value store. A zero TTL keeps
// entries forever.
type Cache struct {
	store  storage.Store
	source Source
	ttl    time.Duration
	logger *logging.Logger
	now    func() time.Time
}

func NewCache(store storage.Store, source Source, ttl time.Duration, logger *logging.Logger) *Cache {
	return &Cache{
		store:  store,
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Fetch serves a fresh cached manifest or downloads and stores a new one.
// A broken cache entry is logged and replaced rather than failing the run.
func (c *Cache) Fetch(ctx context.Context, version, locale string) (*Manifest, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	cached, err := c.Get(version, locale)
	switch {
	case err == nil && c.fresh(cached):
		c.debug("manifest cache hit", version, locale)
		return cached.Checksums, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		c.warn("manifest cache read failed", version, locale, err)
	}

	m, err := c.source.Fetch(ctx, version, locale)
	if err != nil {
		return nil, err
	}
	if err := c.Put(CachedManifest{Version: version, Locale: locale, FetchedAt: c.now().UTC(), Checksums: m}); err != nil {
		c.warn("manifest cache write failed", version, locale, err)
	}
	return m, nil
}

func (c *Cache) Get(version, locale string) (CachedManifest, error) {
	raw, err := c.store.Get(manifestsBucket, cacheKey(version, locale))
	if err != nil {
		return CachedManifest{}, err
	}
	var cm CachedManifest
	if err := json.Unmarshal(raw, &cm); err != nil {
		return CachedManifest{}, fmt.Errorf("decode cached manifest: %w", err)
	}
	if cm.Checksums == nil {
		return CachedManifest{}, fmt.Errorf("cached manifest %s/%s has no checksums", version, locale)
	}
	return cm, nil
}

func (c *Cache) Put(cm CachedManifest) error {
	if cm.Version == "" || cm.Checksums == nil {
		return fmt.Errorf("version and checksums are required")
	}
	raw, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("encode cached manifest: %w", err)
	}
	return c.store.Put(manifestsBucket, cacheKey(cm.Version, cm.Locale), raw)
}

// CacheEntry summarises one cached manifest.
type CacheEntry struct {
	Version   string    `json:"version" yaml:"version"`
	Locale    string    `json:"locale" yaml:"locale"`
	Files     int       `json:"files" yaml:"files"`
	FetchedAt time.Time `json:"fetched_at" yaml:"fetched_at"`
}

// List returns the cached manifests, newest release first. Versions that are
// not semantic versions sort after those that are, by plain string order.
func (c *Cache) List() ([]CacheEntry, error) {
	out := []CacheEntry{}
	err := c.store.ForEach(manifestsBucket, func(_, value []byte) error {
		var cm CachedManifest
		if err := json.Unmarshal(value, &cm); err != nil {
			return fmt.Errorf("decode cached manifest: %w", err)
		}
		files := 0
		if cm.Checksums != nil {
			files = cm.Checksums.Len()
		}
		out = append(out, CacheEntry{Version: cm.Version, Locale: cm.Locale, Files: files, FetchedAt: cm.FetchedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return versionLess(out[j], out[i])
	})
	return out, nil
}

// Clear removes every cached manifest and reports how many were dropped.
func (c *Cache) Clear() (int, error) {
	var keys []string
	if err := c.store.ForEach(manifestsBucket, func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}); err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := c.store.Delete(manifestsBucket, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (c *Cache) fresh(cm CachedManifest) bool {
	if c.ttl <= 0 {
		return true
	}
	return c.now().Sub(cm.FetchedAt) < c.ttl
}

func (c *Cache) debug(msg, version, locale string) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, logging.Field{Key: "version", Value: version}, logging.Field{Key: "locale", Value: locale})
}

func (c *Cache) warn(msg, version, locale string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg,
		logging.Field{Key: "version", Value: version},
		logging.Field{Key: "locale", Value: locale},
		logging.Field{Key: "error", Value: err.Error()},
	)
}

func cacheKey(version, locale string) string {
	return version + "@" + locale
}

func versionLess(a, b CacheEntry) bool {
	va, errA := semver.NewVersion(a.Version)
	vb, errB := semver.NewVersion(b.Version)
	switch {
	case errA == nil && errB == nil:
		if !va.Equal(vb) {
			return va.LessThan(vb)
		}
	case errA == nil:
		return false
	case errB == nil:
		return true
	default:
		if a.Version != b.Version {
			return a.Version < b.Version
		}
	}
	return a.Locale > b.Locale
}
