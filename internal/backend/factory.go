package backend

import (
	"context"
	"fmt"
	"log/slog"

	"finrank/internal/cache"
	"finrank/internal/sheets"
	gsheet "finrank/internal/sheets/google"
	"finrank/internal/storage"
	"finrank/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if !config.Type.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", config.Type)
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Backend: repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context) (*BackendResult, error) {
	f.logger.WarnContext(ctx, "Initialized memory backend, rankings are lost on restart")

	return &BackendResult{
		Backend: memory.NewStore(),
		Cleanup: nil, // No cleanup needed for memory backend
	}, nil
}

// CreateCache implements Factory.CreateCache
func (f *DefaultFactory) CreateCache(ctx context.Context, config Config) (*CacheResult, error) {
	switch config.Cache {
	case MemoryCache:
		lb := cache.NewLeaderboard(config.CacheSize, config.CacheTTL)
		mgr := cache.NewManager()
		mgr.Register(lb)
		mgr.StartCleanup(config.CacheTTL)
		f.logger.InfoContext(ctx, "Initialized in-memory leaderboard cache",
			"size", config.CacheSize, "ttl", config.CacheTTL)
		return &CacheResult{
			Cache: lb,
			Cleanup: func() error {
				mgr.Stop()
				return nil
			},
		}, nil

	case RedisCache:
		rdb, err := cache.NewRedisClient(ctx, config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis cache: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Redis leaderboard cache", "ttl", config.CacheTTL)
		return &CacheResult{
			Cache:   cache.NewRedisLeaderboard(rdb, config.CacheTTL, ""),
			Ping:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			Cleanup: rdb.Close,
		}, nil

	case NoCache:
		f.logger.InfoContext(ctx, "Leaderboard cache disabled")
		return &CacheResult{}, nil
	}
	return nil, fmt.Errorf("invalid cache type: %s", config.Cache)
}

// CreateArchiver implements Factory.CreateArchiver
func (f *DefaultFactory) CreateArchiver(ctx context.Context, config Config) (sheets.SeasonArchiver, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.InfoContext(ctx, "Season archive disabled - no GOOGLE_SPREADSHEET_ID provided")
		return nil, nil
	}
	cli, err := gsheet.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized Google Sheets season archive", "spreadsheet_id", config.GoogleSpreadsheetID)
	return cli, nil
}
