// Package memory implements an in-memory photo blob store for tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"auditcore/internal/blob/core"
)

type entry struct {
	object core.Object
	data   []byte
}

// Store keeps photo blobs in process memory.
type Store struct {
	mu   sync.RWMutex
	objs map[string]entry
}

// New returns an empty in-memory photo store.
func New() *Store { return &Store{objs: make(map[string]entry)} }

var _ core.Store = (*Store)(nil)

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return core.Object{}, fmt.Errorf("photo %s already exists", key)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Object{}, err
	}
	obj := core.Object{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		StoredAt:    time.Now().UTC(),
	}
	s.objs[key] = entry{object: obj, data: data}
	return obj, nil
}

func (s *Store) Get(_ context.Context, key string) (core.Object, io.ReadCloser, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Object{}, nil, core.ErrNotFound
	}
	data := append([]byte(nil), e.data...)
	obj := e.object
	obj.Metadata = core.CloneMetadata(obj.Metadata)
	return obj, io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Stat(_ context.Context, key string) (core.Object, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Object{}, core.ErrNotFound
	}
	obj := e.object
	obj.Metadata = core.CloneMetadata(obj.Metadata)
	return obj, nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Object, 0, len(s.objs))
	for key, e := range s.objs {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		obj := e.object
		obj.Metadata = core.CloneMetadata(obj.Metadata)
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) SignedGetURL(_ context.Context, _ string, _ core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}
