package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

// Store implements MongoDB storage
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	cfg      *config.MongoDBConfig

	linkedPaths *mongo.Collection
	networks    *mongo.Collection
	counters    *mongo.Collection
}

// linkedPathDoc is a linked path plus its insertion sequence
type linkedPathDoc struct {
	Seq  int64  `bson:"seq"`
	Name string `bson:"name"`
	Path string `bson:"path"`
}

// networkDoc is a network plus its insertion sequence
type networkDoc struct {
	Seq         int64               `bson:"seq"`
	Name        string              `bson:"name"`
	LinkedPaths []domain.LinkedPath `bson:"linked_paths"`
	Port        uint16              `bson:"port"`
}

func (d networkDoc) network() domain.Network {
	return domain.Network{Name: d.Name, LinkedPaths: d.LinkedPaths, Port: d.Port}
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *config.MongoDBConfig) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)
	s := &Store{
		client:      client,
		database:    database,
		cfg:         cfg,
		linkedPaths: database.Collection("linked_paths"),
		networks:    database.Collection("networks"),
		counters:    database.Collection("counters"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{s.linkedPaths, s.networks} {
		_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "seq", Value: 1}}},
		})
		if err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll.Name(), err)
		}
	}
	return nil
}

// nextSeq returns the next insertion sequence number for counter
func (s *Store) nextSeq(ctx context.Context, counter string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(
		ctx,
		bson.M{"_id": counter},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to get next sequence: %w", err)
	}
	return doc.Value, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func bySeq() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
}

func (s *Store) ReadLinkedPaths(ctx context.Context) ([]domain.LinkedPath, error) {
	cursor, err := s.linkedPaths.Find(ctx, bson.M{}, bySeq())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	defer cursor.Close(ctx)

	var docs []linkedPathDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	paths := make([]domain.LinkedPath, 0, len(docs))
	for _, d := range docs {
		paths = append(paths, domain.LinkedPath{Name: d.Name, Path: d.Path})
	}
	return paths, nil
}

func (s *Store) LinkPath(ctx context.Context, lp domain.LinkedPath) error {
	if err := domain.ValidateLinkedPath(lp); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	seq, err := s.nextSeq(ctx, "linked_path_seq")
	if err != nil {
		return err
	}

	_, err = s.linkedPaths.InsertOne(ctx, linkedPathDoc{Seq: seq, Name: lp.Name, Path: lp.Path})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("linked path %q: %w", lp.Name, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to link path: %w", err)
	}
	return nil
}

func (s *Store) UnlinkPath(ctx context.Context, name string) error {
	result, err := s.linkedPaths.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return fmt.Errorf("failed to unlink path: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("linked path %q: %w", name, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ReadNetworks(ctx context.Context) ([]domain.Network, error) {
	cursor, err := s.networks.Find(ctx, bson.M{}, bySeq())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	defer cursor.Close(ctx)

	var docs []networkDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	networks := make([]domain.Network, 0, len(docs))
	for _, d := range docs {
		networks = append(networks, d.network())
	}
	return networks, nil
}

func (s *Store) GetNetwork(ctx context.Context, name string) (*domain.Network, error) {
	var doc networkDoc
	err := s.networks.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("network %q: %w", name, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get network: %w", err)
	}
	network := doc.network()
	return &network, nil
}

func (s *Store) CreateNetwork(ctx context.Context, network domain.Network) error {
	if err := domain.ValidateNetwork(network); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	seq, err := s.nextSeq(ctx, "network_seq")
	if err != nil {
		return err
	}

	_, err = s.networks.InsertOne(ctx, networkDoc{
		Seq:         seq,
		Name:        network.Name,
		LinkedPaths: network.LinkedPaths,
		Port:        network.Port,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("network %q: %w", network.Name, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create network: %w", err)
	}
	return nil
}

func (s *Store) RemoveNetwork(ctx context.Context, name string) error {
	result, err := s.networks.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return fmt.Errorf("failed to remove network: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("network %q: %w", name, storage.ErrNotFound)
	}
	return nil
}
