package backend

import (
	"context"
	"time"

	"finrank/internal/services"
	"finrank/internal/sheets"
)

// Backend is a storage backend serving both the ranking engine and the season
// manager.
type Backend interface {
	services.RankingRepository
	services.SeasonRepository
	Ping(ctx context.Context) error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	Cleanup CleanupFunc
}

// CacheResult holds the leaderboard cache. Cache is nil when caching is off.
type CacheResult struct {
	Cache   services.LeaderboardCache
	Ping    func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	CreateCache(ctx context.Context, config Config) (*CacheResult, error)
	// CreateArchiver returns nil when no spreadsheet is configured.
	CreateArchiver(ctx context.Context, config Config) (sheets.SeasonArchiver, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type         BackendType
	SQLiteDBPath string

	Cache     CacheType
	RedisURL  string
	CacheTTL  time.Duration
	CacheSize int

	GoogleSpreadsheetID string
}

// BackendType represents the type of storage backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// CacheType selects the leaderboard cache
type CacheType string

const (
	MemoryCache CacheType = "memory"
	RedisCache  CacheType = "redis"
	NoCache     CacheType = "none"
)

func (ct CacheType) IsValid() bool {
	switch ct {
	case MemoryCache, RedisCache, NoCache:
		return true
	default:
		return false
	}
}
