// Package badger keeps the linked-path document in an embedded BadgerDB.
// The whole document lives under one key and every change is a single
// read-modify-write transaction.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
)

var documentKey = []byte("linkshare/document/v1")

// Store implements storage.Store on BadgerDB
type Store struct {
	db *badger.DB
}

// Options selects where the database lives
type Options struct {
	Dir      string
	InMemory bool
}

// NewStore opens the database
func NewStore(opts Options, logger *zap.Logger) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithLogger(&zapLogger{logger.Named("badger").Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger database is closed", storage.ErrDatabase)
	}
	return nil
}

func loadDocument(txn *badger.Txn) (*storage.Document, error) {
	item, err := txn.Get(documentKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	doc := storage.NewDocument()
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", storage.ErrDatabase, err)
	}
	doc.Normalize()
	return doc, nil
}

func (s *Store) read() (*storage.Document, error) {
	var doc *storage.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = loadDocument(txn)
		return err
	})
	return doc, err
}

func (s *Store) update(fn func(doc *storage.Document) error) error {
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			doc, err := loadDocument(txn)
			if err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
			data, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("%w: encode document: %v", storage.ErrDatabase, err)
			}
			return txn.Set(documentKey, data)
		})
		// Concurrent writers touch the same key; retry the loser.
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

func (s *Store) ReadLinkedPaths(ctx context.Context) ([]domain.LinkedPath, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.LinkedPaths, nil
}

func (s *Store) LinkPath(ctx context.Context, lp domain.LinkedPath) error {
	return s.update(func(doc *storage.Document) error { return doc.LinkPath(lp) })
}

func (s *Store) UnlinkPath(ctx context.Context, name string) error {
	return s.update(func(doc *storage.Document) error { return doc.UnlinkPath(name) })
}

func (s *Store) ReadNetworks(ctx context.Context) ([]domain.Network, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Networks, nil
}

func (s *Store) GetNetwork(ctx context.Context, name string) (*domain.Network, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Network(name)
}

func (s *Store) CreateNetwork(ctx context.Context, network domain.Network) error {
	return s.update(func(doc *storage.Document) error { return doc.CreateNetwork(network) })
}

func (s *Store) RemoveNetwork(ctx context.Context, name string) error {
	return s.update(func(doc *storage.Document) error { return doc.RemoveNetwork(name) })
}

// zapLogger routes badger's internal logging through zap
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l *zapLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l *zapLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l *zapLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
