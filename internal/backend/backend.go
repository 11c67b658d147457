package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/storage"
	"github.com/sirosfoundation/go-linkshare/internal/storage/badger"
	"github.com/sirosfoundation/go-linkshare/internal/storage/file"
	"github.com/sirosfoundation/go-linkshare/internal/storage/memory"
	"github.com/sirosfoundation/go-linkshare/internal/storage/mongodb"
	"github.com/sirosfoundation/go-linkshare/internal/storage/sqlite"
	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

// Type defines the type of storage backend
type Type string

const (
	// TypeMemory uses in-memory storage (for testing/development)
	TypeMemory Type = "memory"
	// TypeFile uses a JSON document on disk (the default)
	TypeFile Type = "file"
	// TypeSQLite uses an embedded SQLite database
	TypeSQLite Type = "sqlite"
	// TypeBadger uses an embedded BadgerDB key-value store
	TypeBadger Type = "badger"
	// TypeMongoDB uses MongoDB storage
	TypeMongoDB Type = "mongodb"
)

// Backend wraps a storage.Store with what the daemon needs to know about
// where it lives
type Backend interface {
	storage.Store

	// Type returns the backend type
	Type() Type

	// WatchPath returns the file to watch for external edits, or "" when
	// the backend has no single file a user would edit by hand
	WatchPath() string
}

type backend struct {
	storage.Store
	typ       Type
	watchPath string
}

func (b *backend) Type() Type        { return b.typ }
func (b *backend) WatchPath() string { return b.watchPath }

// New creates a storage backend based on the configuration
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	storageType := Type(cfg.Storage.Type)

	switch storageType {
	case TypeMemory, "":
		// Default to memory if not specified
		return &backend{Store: memory.NewStore(), typ: TypeMemory}, nil

	case TypeFile:
		store, err := file.NewStore(cfg.Storage.File.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file backend: %w", err)
		}
		return &backend{Store: store, typ: TypeFile, watchPath: store.Path()}, nil

	case TypeSQLite:
		store, err := sqlite.NewStore(ctx, cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return &backend{Store: store, typ: TypeSQLite}, nil

	case TypeBadger:
		store, err := badger.NewStore(badger.Options{
			Dir:      cfg.Storage.Badger.Dir,
			InMemory: cfg.Storage.Badger.InMemory,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Badger backend: %w", err)
		}
		return &backend{Store: store, typ: TypeBadger}, nil

	case TypeMongoDB:
		store, err := mongodb.NewStore(ctx, &cfg.Storage.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB backend: %w", err)
		}
		return &backend{Store: store, typ: TypeMongoDB}, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
