// Package store is the in-memory record store behind the demo data service.
package store

import (
	"net/http"
	"sort"
	"sync"
)

// Record is one stored entry, served as {"string": "..."}.
type Record struct {
	String string `json:"string"`
}

// Memory is a concurrency-safe map of key names to records.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Seeded returns a store holding the foobar record the demo page asks for.
func Seeded() *Memory {
	m := NewMemory()
	m.Put("foobar", Record{String: "foobar"})
	return m
}

func (m *Memory) Put(key string, r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = r
}

func (m *Memory) Get(key string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	return r, ok
}

func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DataService exposes the store over JSON-RPC as data(key_name).
type DataService struct {
	Store *Memory
}

// Data returns the record for keyName, or nil (a null result) when there is none.
func (s *DataService) Data(keyName string) (*Record, error) {
	r, ok := s.Store.Get(keyName)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Keys lists the stored key names.
func (s *DataService) Keys() []string {
	return s.Store.Keys()
}

// DefaultKey is served by the padded endpoint when the request names no key.
const DefaultKey = "foobar"

// Data serves ?key=NAME (DefaultKey when absent) for the padded data endpoint,
// so a Memory is a server.DataSource. A missing record is served as null.
func (m *Memory) Data(r *http.Request) (any, error) {
	key := r.URL.Query().Get("key")
	if key == "" {
		key = DefaultKey
	}
	rec, ok := m.Get(key)
	if !ok {
		return nil, nil
	}
	return rec, nil
}
