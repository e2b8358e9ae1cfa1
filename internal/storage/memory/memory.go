// Package memory provides an in-process blob store for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type object struct {
	contentType string
	data        []byte
}

// Store keeps objects in a map. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New constructs a Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// PutObject stores a copy of data under path and returns a mem:// URI.
func (s *Store) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[path] = object{contentType: contentType, data: buf}
	s.mu.Unlock()
	return "mem://" + path, nil
}

// GetObject returns the stored bytes, or false when absent.
func (s *Store) GetObject(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, "", false
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, obj.contentType, true
}

// Len reports how many objects are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
