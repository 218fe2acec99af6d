package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// PersonalVar is one remembered per-user variable.
type PersonalVar struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BadgerPersonalStore keeps per-user personal variables in BadgerDB.
// Keys are namespaced by user so data for different users never mixes.
type BadgerPersonalStore struct {
	db *badger.DB
}

// NewBadgerPersonalStore opens (or creates) the store at path.
func NewBadgerPersonalStore(path string) (*BadgerPersonalStore, error) {
	opts := badger.DefaultOptions(expandPath(path)).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerPersonalStore{db: db}, nil
}

func personalKey(userID, key string) []byte {
	return []byte(fmt.Sprintf("personal:%s:%s", userID, strings.ToLower(strings.TrimSpace(key))))
}

// Set stores a variable for a user.
func (s *BadgerPersonalStore) Set(ctx context.Context, userID, key, value string) error {
	v := PersonalVar{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal variable: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(personalKey(userID, key), data)
	})
}

// Get retrieves a variable for a user; ok is false when absent.
func (s *BadgerPersonalStore) Get(ctx context.Context, userID, key string) (*PersonalVar, bool, error) {
	var v PersonalVar

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(personalKey(userID, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &v, true, nil
}

// List returns all variables stored for a user.
func (s *BadgerPersonalStore) List(ctx context.Context, userID string) ([]PersonalVar, error) {
	var vars []PersonalVar

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fmt.Sprintf("personal:%s:", userID))

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var v PersonalVar
				if err := json.Unmarshal(val, &v); err != nil {
					return nil // skip malformed entries
				}
				vars = append(vars, v)
				return nil
			})
			if err != nil {
				continue
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return vars, nil
}

// Close closes the underlying database.
func (s *BadgerPersonalStore) Close() error {
	return s.db.Close()
}

// expandPath expands a leading ~/ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
