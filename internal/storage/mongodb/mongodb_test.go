package mongodb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-linkshare/internal/storage"
	"github.com/sirosfoundation/go-linkshare/internal/storage/storagetest"
	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

func getTestMongoURI() string {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	return uri
}

func skipIfNoMongo(t *testing.T, database string) *Store {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := &config.MongoDBConfig{
		URI:      getTestMongoURI(),
		Database: database,
		Timeout:  5,
	}

	store, err := NewStore(ctx, cfg)
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
		return nil
	}

	// Clean up test database
	t.Cleanup(func() {
		ctx := context.Background()
		_ = store.database.Drop(ctx)
		_ = store.Close()
	})

	return store
}

func TestStore(t *testing.T) {
	n := 0
	storagetest.Run(t, func(t *testing.T) storage.Store {
		n++
		return skipIfNoMongo(t, fmt.Sprintf("linkshare_test_%d", n))
	})
}

func TestStore_Ping(t *testing.T) {
	store := skipIfNoMongo(t, "linkshare_test_ping")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, store.Ping(ctx))
}

func TestNewStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewStore(ctx, &config.MongoDBConfig{
		URI:      "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=500",
		Database: "linkshare_test",
		Timeout:  1,
	})
	require.Error(t, err)
}
