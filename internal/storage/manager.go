package storage

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager provides a unified interface for storage operations
type Manager struct {
	db     *BoltDB
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewManager creates a new storage manager
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	db, err := NewBoltDB(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the storage manager
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		return err
	}
	return nil
}

// GetBoltDB returns the wrapped BoltDB instance for higher-level operations
func (m *Manager) GetBoltDB() *BoltDB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

var errClosed = errors.New("storage is closed")

// Activation history

// SaveActivation stores an activation record and trims old history
func (m *Manager) SaveActivation(record *ActivationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return errClosed
	}
	if err := m.db.SaveActivation(record); err != nil {
		return err
	}
	if removed, err := m.db.PruneActivations(MaxActivationRecords); err != nil {
		m.logger.Warnw("Failed to prune activation history", "error", err)
	} else if removed > 0 {
		m.logger.Debugw("Pruned activation history", "removed", removed)
	}
	return nil
}

// ListActivations returns recent activation records, newest first
func (m *Manager) ListActivations(profileID string, limit int) ([]*ActivationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, errClosed
	}
	return m.db.ListActivations(profileID, limit)
}

// GetActivation returns one activation record
func (m *Manager) GetActivation(id string) (*ActivationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, errClosed
	}
	return m.db.GetActivation(id)
}

// Active profile

// SaveActiveProfile persists which profile is active
func (m *Manager) SaveActiveProfile(state *ActiveProfileState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return errClosed
	}
	return m.db.putRecord(MetaBucket, ActiveProfileKey, state)
}

// LoadActiveProfile returns the persisted active profile, or nil when none is stored
func (m *Manager) LoadActiveProfile() (*ActiveProfileState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, errClosed
	}
	state := &ActiveProfileState{}
	if err := m.db.getRecord(MetaBucket, ActiveProfileKey, state); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

// ClearActiveProfile forgets the persisted active profile
func (m *Manager) ClearActiveProfile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return errClosed
	}
	return m.db.deleteRecord(MetaBucket, ActiveProfileKey)
}

// View state

// SaveViewState remembers the last view and selection
func (m *Manager) SaveViewState(record *ViewStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return errClosed
	}
	return m.db.putRecord(MetaBucket, LastViewStateKey, record)
}

// LoadViewState returns the last saved view state, or nil when none is stored
func (m *Manager) LoadViewState() (*ViewStateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, errClosed
	}
	record := &ViewStateRecord{}
	if err := m.db.getRecord(MetaBucket, LastViewStateKey, record); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Maintenance

// GetSchemaVersion returns the database schema version
func (m *Manager) GetSchemaVersion() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return 0, errClosed
	}
	return m.db.GetSchemaVersion()
}

// Backup copies the database to destPath
func (m *Manager) Backup(destPath string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return errClosed
	}
	return m.db.Backup(destPath)
}

// GetStats returns per-bucket record counts
func (m *Manager) GetStats() (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, errClosed
	}
	return m.db.Stats()
}
