// Package file stores the linked-path configuration as a single JSON
// document on disk. Every operation re-reads the file, so edits made by
// hand (or by another process) are picked up without a restart.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
)

// Store implements storage.Store on a JSON file
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewStore opens the document at path, creating it (and its directory)
// when missing.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger.Named("file-store")}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.save(storage.NewDocument()); err != nil {
			return nil, err
		}
		s.logger.Info("Created linked-path config", zap.String("path", path))
	} else if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", storage.ErrDatabase, path, err)
	}

	// Fail early on a corrupt document.
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the document location
func (s *Store) Path() string { return s.path }

func (s *Store) load() (*storage.Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return storage.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", storage.ErrDatabase, s.path, err)
	}

	doc := storage.NewDocument()
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", storage.ErrDatabase, s.path, err)
		}
	}
	doc.Normalize()
	return doc, nil
}

// save writes doc to a temp file next to the target and renames it into
// place so readers never see a half-written document.
func (s *Store) save(doc *storage.Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", storage.ErrDatabase, dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", storage.ErrDatabase, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", storage.ErrDatabase, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", storage.ErrDatabase, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename into %s: %v", storage.ErrDatabase, s.path, err)
	}
	return nil
}

func (s *Store) read() (*storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) update(fn func(doc *storage.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *Store) Close() error { return nil }

// Ping checks that the document is still readable
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.read()
	return err
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
