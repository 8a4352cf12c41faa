package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager hands out per-owner indexes and serializes access to each one.
// Indexes stay cached in memory after first use; cross-process freshness is
// bounded by the last successful persist.
type Manager struct {
	config  Config
	store   BlobStore
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	indexes map[string]*ownedIndex
}

type ownedIndex struct {
	mu    sync.Mutex
	index *Index
}

// NewManager creates a manager over the given blob store.
func NewManager(config Config, store BlobStore, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: blob store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &Manager{
		config:  config,
		store:   store,
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// WithIndex runs fn with the owner's initialized index while holding that
// owner's lock, so in-process writes for one owner never interleave.
func (m *Manager) WithIndex(ctx context.Context, owner string, fn func(*Index) error) error {
	if owner == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidConfig)
	}

	m.mu.Lock()
	if m.indexes == nil {
		m.indexes = make(map[string]*ownedIndex)
	}
	owned, ok := m.indexes[owner]
	if !ok {
		owned = &ownedIndex{index: newIndex(owner, m.config, m.store, m.logger, m.metrics)}
		m.indexes[owner] = owned
	}
	m.mu.Unlock()

	owned.mu.Lock()
	defer owned.mu.Unlock()

	if !owned.index.initialized {
		if _, err := owned.index.Initialize(ctx); err != nil {
			return err
		}
	}
	return fn(owned.index)
}

// Stats reports the owner's index shape, initializing it if needed.
func (m *Manager) Stats(ctx context.Context, owner string) (IndexStats, error) {
	var stats IndexStats
	err := m.WithIndex(ctx, owner, func(x *Index) error {
		stats = x.Stats()
		return nil
	})
	return stats, err
}
