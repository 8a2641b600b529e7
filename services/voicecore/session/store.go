// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store persists sessions and user profiles across restarts.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	SaveSession(state *State) error
	LoadSession(sessionID string) (*State, error)
	DeleteSession(sessionID string) error

	SaveProfile(profile *UserProfile) error
	LoadProfile(userID string) (*UserProfile, error)
	Profiles() ([]*UserProfile, error)

	Close() error
}

// Badger key prefixes.
const (
	sessionKeyPrefix = "session/"
	profileKeyPrefix = "profile/"
)

// StoreConfig holds configuration for the badger-backed store.
type StoreConfig struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used in
	// tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// SessionTTL expires persisted session records. Zero disables TTL;
	// profiles never expire.
	SessionTTL time.Duration

	// Logger is the logger for database operations. If nil, badger's
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:       path,
		SyncWrites: true,
		SessionTTL: 24 * time.Hour,
	}
}

// InMemoryStoreConfig returns a configuration for tests.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// badgerStore is the badger-backed Store implementation. Values are
// JSON; session entries carry a TTL so abandoned state ages out.
type badgerStore struct {
	db         *badger.DB
	sessionTTL time.Duration
}

// badgerSlogger adapts slog.Logger to badger's Logger interface.
type badgerSlogger struct {
	logger *slog.Logger
}

func (l *badgerSlogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerSlogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerSlogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerSlogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore opens a badger-backed session store.
//
// Description:
//
//	Opens the database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist.
//
// Outputs:
//
//	Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot be
//	        opened.
//
// Thread Safety: The returned Store is safe for concurrent use.
func OpenStore(cfg StoreConfig) (Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerSlogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &badgerStore{db: db, sessionTTL: cfg.SessionTTL}, nil
}

func (s *badgerStore) SaveSession(state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.SessionID, err)
	}
	key := []byte(sessionKeyPrefix + state.SessionID)

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if s.sessionTTL > 0 {
			entry = entry.WithTTL(s.sessionTTL)
		}
		return txn.SetEntry(entry)
	})
}

func (s *badgerStore) LoadSession(sessionID string) (*State, error) {
	var state State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &state, nil
}

func (s *badgerStore) DeleteSession(sessionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKeyPrefix + sessionID))
	})
}

func (s *badgerStore) SaveProfile(profile *UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", profile.UserID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(profileKeyPrefix+profile.UserID), data)
	})
}

func (s *badgerStore) LoadProfile(userID string) (*UserProfile, error) {
	var profile UserProfile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(profileKeyPrefix + userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &profile)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return &profile, nil
}

func (s *badgerStore) Profiles() ([]*UserProfile, error) {
	var profiles []*UserProfile
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(profileKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var profile UserProfile
				if err := json.Unmarshal(val, &profile); err != nil {
					return err
				}
				profiles = append(profiles, &profile)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}
	return profiles, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
