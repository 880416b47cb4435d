package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/interfaces"

	bolt "go.etcd.io/bbolt"
)

const (
	stateBucket   = "state"
	notesBucket   = "notes"
	secretsBucket = "secrets"

	syncStateKey = "last_sync"
)

type storage struct {
	db     *bolt.DB
	config *common.StorageConfig
}

func NewStorage(config *common.StorageConfig) (interfaces.Storage, error) {
	dbDir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(config.DatabasePath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{stateBucket, notesBucket, secretsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &storage{
		db:     db,
		config: config,
	}, nil
}

func (s *storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *storage) SaveSyncState(state *interfaces.SyncState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal sync state: %w", err)
		}
		return tx.Bucket([]byte(stateBucket)).Put([]byte(syncStateKey), data)
	})
}

func (s *storage) LoadSyncState() (*interfaces.SyncState, error) {
	var state *interfaces.SyncState

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(stateBucket)).Get([]byte(syncStateKey))
		if data == nil {
			return nil
		}

		state = &interfaces.SyncState{}
		return json.Unmarshal(data, state)
	})

	return state, err
}

// SaveNoteHash records the content hash written for an incident note so an
// unchanged incident can skip its vault write next cycle.
func (s *storage) SaveNoteHash(reference, hash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(notesBucket)).Put([]byte(reference), []byte(hash))
	})
}

func (s *storage) LoadNoteHash(reference string) (string, error) {
	var hash string

	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket([]byte(notesBucket)).Get([]byte(reference)); data != nil {
			hash = string(data)
		}
		return nil
	})

	return hash, err
}

func (s *storage) GetSecret(name string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket([]byte(secretsBucket)).Get([]byte(name)); data != nil {
			value = string(data)
		}
		return nil
	})

	return value, err
}

func (s *storage) SetSecret(name, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(secretsBucket)).Put([]byte(name), []byte(value))
	})
}

func (s *storage) DeleteSecret(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(secretsBucket)).Delete([]byte(name))
	})
}
