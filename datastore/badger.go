// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datastore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

const defaultValueLogGCDiscardRatio = 0.5

// BadgerBackend persists blocks in a badger database
type BadgerBackend struct {
	db     *badger.DB
	logger *slog.Logger
	closed atomic.Bool
}

type BadgerOptionFunc func(*badgerConfig)

type badgerConfig struct {
	path       string
	inMemory   bool
	syncWrites bool
	logger     *slog.Logger
}

// WithBadgerInMemory keeps the database in memory only
func WithBadgerInMemory() BadgerOptionFunc {
	return func(c *badgerConfig) {
		c.inMemory = true
	}
}

func WithBadgerSyncWrites(syncWrites bool) BadgerOptionFunc {
	return func(c *badgerConfig) {
		c.syncWrites = syncWrites
	}
}

func WithBadgerLogger(logger *slog.Logger) BadgerOptionFunc {
	return func(c *badgerConfig) {
		c.logger = logger
	}
}

// NewBadgerBackend opens (or creates) a badger database in dir
func NewBadgerBackend(dir string, opts ...BadgerOptionFunc) (*BadgerBackend, error) {
	cfg := badgerConfig{
		path: dir,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.path == "" && !cfg.inMemory {
		return nil, errors.New("datastore: badger directory not specified")
	}
	badgerOpts := badger.DefaultOptions(cfg.path).
		WithSyncWrites(cfg.syncWrites).
		WithLogger(&badgerLogger{logger: cfg.logger})
	if cfg.inMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("datastore: open badger: %w", err)
	}
	return &BadgerBackend{
		db:     db,
		logger: cfg.logger,
	}, nil
}

func (b *BadgerBackend) Get(key []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, convertBadgerError(err)
	}
	return value, nil
}

func (b *BadgerBackend) Put(key []byte, value []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	return convertBadgerError(err)
}

func (b *BadgerBackend) Has(key []byte) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return exists, err
}

func (b *BadgerBackend) Delete(key []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	return convertBadgerError(err)
}

func (b *BadgerBackend) Keys(prefix []byte, fn func(key []byte) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	// Keys are collected first so that fn can write to the database
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// Compact reclaims value log space after blocks have been deleted
func (b *BadgerBackend) Compact() error {
	if b.closed.Load() {
		return ErrClosed
	}
	for {
		err := b.db.RunValueLogGC(defaultValueLogGCDiscardRatio)
		if err == nil {
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		return err
	}
}

func (b *BadgerBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

func convertBadgerError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	default:
		return err
	}
}

// badgerLogger forwards badger's printf-style logging to slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
