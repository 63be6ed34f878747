package backend

import (
	"fmt"

	"finrank/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type:         BackendType(appConfig.StorageBackend),
		SQLiteDBPath: appConfig.SQLiteDBPath,
		Cache:        CacheType(appConfig.CacheBackend),
		RedisURL:     appConfig.RedisURL,
		CacheTTL:     appConfig.CacheTTL,
		CacheSize:    appConfig.CacheSize,

		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}

	if !c.Cache.IsValid() {
		return fmt.Errorf("invalid cache type: %s", c.Cache)
	}
	switch c.Cache {
	case RedisCache:
		if c.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for redis cache")
		}
		if c.CacheTTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
	case MemoryCache:
		if c.CacheTTL <= 0 || c.CacheSize <= 0 {
			return fmt.Errorf("memory cache needs a positive TTL and size")
		}
	}
	return nil
}
