package storage

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// DatabaseFile is the bbolt file name inside the data directory
const DatabaseFile = "console.db"

// BoltDB wraps a bbolt database with typed record helpers
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (creating if needed) the database in dataDir
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	boltDB := &BoltDB{db: db, logger: logger}
	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debugw("Opened database", "path", dbPath)
	return boltDB, nil
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{ActivationsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if meta.Get([]byte(SchemaVersionKey)) == nil {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, CurrentSchemaVersion)
			if err := meta.Put([]byte(SchemaVersionKey), buf); err != nil {
				return fmt.Errorf("failed to write schema version: %w", err)
			}
		}
		return nil
	})
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// GetSchemaVersion returns the stored schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(MetaBucket)).Get([]byte(SchemaVersionKey))
		if len(data) != 8 {
			return fmt.Errorf("invalid schema version entry")
		}
		version = binary.BigEndian.Uint64(data)
		return nil
	})
	return version, err
}

// putRecord stores a BinaryMarshaler under key in bucket
func (b *BoltDB) putRecord(bucket, key string, record encoding.BinaryMarshaler) error {
	data, err := record.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", bucket, key, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// getRecord loads key from bucket into record, returning ErrNotFound when absent
func (b *BoltDB) getRecord(bucket, key string, record encoding.BinaryUnmarshaler) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return record.UnmarshalBinary(data)
	})
}

func (b *BoltDB) deleteRecord(bucket, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// SaveActivation inserts or replaces an activation record
func (b *BoltDB) SaveActivation(record *ActivationRecord) error {
	if record.ID == "" {
		return errors.New("activation record requires an id")
	}
	return b.putRecord(ActivationsBucket, record.ID, record)
}

// GetActivation returns the activation record with the given id
func (b *BoltDB) GetActivation(id string) (*ActivationRecord, error) {
	record := &ActivationRecord{}
	if err := b.getRecord(ActivationsBucket, id, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ListActivations returns activation records newest first. An empty
// profileID matches every profile; limit <= 0 returns everything.
func (b *BoltDB) ListActivations(profileID string, limit int) ([]*ActivationRecord, error) {
	var records []*ActivationRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(ActivationsBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			record := &ActivationRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				b.logger.Warnw("Skipping corrupt activation record", "key", string(k), "error", err)
				continue
			}
			if profileID != "" && record.ProfileID != profileID {
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ActivatedAt.After(records[j].ActivatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// PruneActivations deletes all but the newest keep records and returns how many were removed
func (b *BoltDB) PruneActivations(keep int) (int, error) {
	records, err := b.ListActivations("", 0)
	if err != nil {
		return 0, err
	}
	if len(records) <= keep {
		return 0, nil
	}

	stale := records[keep:]
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivationsBucket))
		for _, record := range stale {
			if err := bucket.Delete([]byte(record.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune activations: %w", err)
	}
	return len(stale), nil
}

// Backup writes a consistent copy of the database to destPath
func (b *BoltDB) Backup(destPath string) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(destPath, 0600)
	})
}

// Stats returns key counts per bucket
func (b *BoltDB) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	err := b.db.View(func(tx *bbolt.Tx) error {
		for _, name := range []string{ActivationsBucket, MetaBucket} {
			stats[name] = tx.Bucket([]byte(name)).Stats().KeyN
		}
		return nil
	})
	return stats, err
}
