package cache

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// MemoryStorage keeps partitions in process memory. Contents are lost on exit.
type MemoryStorage struct {
	mu         sync.Mutex
	partitions map[string]*memoryPartition
	order      []string
	meta       map[string]string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemory creates an empty in-memory storage
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		partitions: make(map[string]*memoryPartition),
		meta:       make(map[string]string),
	}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[name]
	if !ok {
		p = &memoryPartition{name: name, entries: make(map[string]memoryEntry)}
		s.partitions[name] = p
		s.order = append(s.order, name)
	}
	return p, nil
}

func (s *MemoryStorage) Lookup(_ context.Context, name string) (Partition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[name]
	if !ok {
		return nil, false, nil
	}
	return p, true, nil
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.order...), nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStorage) Meta(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[key], nil
}

func (s *MemoryStorage) SetMeta(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

type memoryEntry struct {
	seq  uint64
	data []byte
}

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	seq     uint64
	entries map[string]memoryEntry
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	key, err := Key(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.Get(ctx, key)
	if resp != nil {
		resp.Request = req
	}
	return resp, err
}

func (p *memoryPartition) Get(_ context.Context, key string) (*http.Response, error) {
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	resp, err := Deserialize(entry.data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize entry %s: %w", key, err)
	}
	return resp, nil
}

func (p *memoryPartition) Put(_ context.Context, req *http.Request, resp *http.Response) error {
	key, err := Key(req)
	if err != nil {
		return err
	}

	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.entries[key] = memoryEntry{seq: p.seq, data: data}
	return nil
}

func (p *memoryPartition) Delete(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[key]; !ok {
		return false, nil
	}
	delete(p.entries, key)
	return true, nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return p.entries[keys[i]].seq < p.entries[keys[j]].seq
	})
	return keys, nil
}

func (p *memoryPartition) Len(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.entries), nil
}
