package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/scenesmith/scenesmith/config"
	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/data"
)

const connectTimeout = 5 * time.Second

// StorageContainer groups the persistence backends and their closer.
type StorageContainer struct {
	Store     core.JobStore
	Artifacts *data.FileArtifactStore

	db    *sql.DB
	redis redis.UniversalClient
}

// Close releases the backing connections, if any.
func (s *StorageContainer) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}

// BuildStorage connects the configured job store driver and the filesystem
// artifact store.
func BuildStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*StorageContainer, error) {
	artifacts, err := data.NewFileArtifactStore(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	container := &StorageContainer{Artifacts: artifacts}
	switch cfg.Driver {
	case config.StoreDriverMemory:
		container.Store = data.NewMemoryJobStore(nil)
	case config.StoreDriverRedis:
		client, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		container.redis = client
		container.Store = data.NewRedisJobStore(client, nil)
	case config.StoreDriverPostgres:
		db, err := connectDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := data.NewPostgresJobStore(db, nil)
		if err := store.EnsureSchema(ctx); err != nil {
			if cerr := db.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close database after schema failure", "error", cerr)
			}
			return nil, fmt.Errorf("ensure jobs schema: %w", err)
		}
		container.db = db
		container.Store = store
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}

	logger.InfoContext(ctx, "storage ready", "driver", cfg.Driver, "artifact_root", artifacts.Root())
	return container, nil
}

func connectDB(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("ping database: %w (close: %w)", err, cerr)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			return nil, fmt.Errorf("ping redis: %w (close: %w)", err, cerr)
		}
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
