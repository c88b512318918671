// Package kvstore provides the scoped, fail-soft key-value store that backs
// thread persistence. Values are JSON documents addressed by string keys.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("kvstore: backend closed")

// Backend is the raw byte-level persistence used by a Store.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Store namespaces keys under a scope and converts values to and from JSON.
// Reads never fail: a missing, unreadable or undecodable value is reported as
// absent so callers fall back to their empty default.
type Store struct {
	backend Backend
	scope   string
	logger  *zap.Logger
}

// New wraps backend. An empty scope leaves keys unprefixed.
func New(backend Backend, scope string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		scope:   strings.TrimSpace(scope),
		logger:  logger.Named("kvstore"),
	}
}

func (s *Store) key(key string) string {
	if s.scope == "" {
		return key
	}
	return s.scope + ":" + key
}

// Get decodes the value stored under key into dst and reports whether it did.
// dst is left untouched when false is returned.
func (s *Store) Get(key string, dst any) bool {
	raw, ok, err := s.backend.Get(s.key(key))
	if err != nil {
		s.logger.Warn("read failed, using empty default", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok || len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("corrupt value, using empty default", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set JSON-encodes value and stores it under key.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.backend.Put(s.key(key), raw); err != nil {
		s.logger.Error("write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.backend.Delete(s.key(key)); err != nil {
		s.logger.Error("delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
