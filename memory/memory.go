// Package memory provides cross-request state. Execution contexts and their
// auxiliary slots live for exactly one top-level request; anything that must
// survive into the next request (remembered home addresses, prior search
// results, user preferences) is written through a Store keyed by a
// conversation id. Swap the in-memory implementation for a persistent or
// semantic backend at wiring time.
package memory

import (
	"fmt"
	"strings"
	"sync"
)

// SearchResult is one hit from a stored-memory search.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// Store is the cross-request memory contract.
type Store interface {
	// Get returns the key/value memory map for a conversation.
	Get(conversationID string) (map[string]any, error)
	// Put merges the delta into a conversation's key/value memory.
	Put(conversationID string, delta map[string]any) error
	// Search queries stored memories for a conversation.
	Search(conversationID, query string, limit int) ([]SearchResult, error)
	// Remember appends a stored memory.
	Remember(conversationID, content string, metadata map[string]any) error
	// Forget removes a stored memory by id.
	Forget(conversationID, memoryID string) error
}

// storedMemory is the internal representation persisted by InMemoryStore.
type storedMemory struct {
	id       string
	content  string
	metadata map[string]any
}

// InMemoryStore is a naive process-local Store. It offers:
//  1. Conversation scoped key/value memory (Get / Put)
//  2. Append-only stored memories with substring Search
//
// Concurrency: protected by RWMutex.
// Search: linear scan with substring matching (case sensitive) assigning a
// constant score of 1.0 to every hit. Suitable only for tests / demos; swap
// for a vector DB or semantic index for production retrieval.
type InMemoryStore struct {
	mu      sync.RWMutex
	memory  map[string]map[string]any          // conversationID -> key -> value
	storage map[string]map[string]storedMemory // conversationID -> memoryID -> stored memory
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memory:  make(map[string]map[string]any),
		storage: make(map[string]map[string]storedMemory),
	}
}

// Get returns a shallow copy of the key/value memory map for the conversation.
func (m *InMemoryStore) Get(conversationID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kv, exists := m.memory[conversationID]
	if !exists {
		return make(map[string]any), nil
	}
	result := make(map[string]any, len(kv))
	for k, v := range kv {
		result[k] = v
	}
	return result, nil
}

// Put merges the provided delta map into the conversation's key/value memory.
func (m *InMemoryStore) Put(conversationID string, delta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.memory[conversationID]; !exists {
		m.memory[conversationID] = make(map[string]any)
	}
	for k, v := range delta {
		m.memory[conversationID][k] = v
	}
	return nil
}

// Search performs a simple substring match over stored memories. Results are
// returned in unspecified order up to the provided limit, each with a
// constant score of 1.0.
func (m *InMemoryStore) Search(conversationID, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	storage, exists := m.storage[conversationID]
	if !exists {
		return []SearchResult{}, nil
	}
	results := make([]SearchResult, 0, limit)
	for _, stored := range storage {
		if len(results) >= limit {
			break
		}
		if query == "" || strings.Contains(stored.content, query) {
			md := make(map[string]any, len(stored.metadata))
			for k, v := range stored.metadata {
				md[k] = v
			}
			results = append(results, SearchResult{ID: stored.id, Content: stored.content, Score: 1.0, Metadata: md})
		}
	}
	return results, nil
}

// Remember appends a new stored memory generating a simple incremental id.
func (m *InMemoryStore) Remember(conversationID, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.storage[conversationID]; !exists {
		m.storage[conversationID] = make(map[string]storedMemory)
	}
	memoryID := fmt.Sprintf("mem_%d", len(m.storage[conversationID]))
	m.storage[conversationID][memoryID] = storedMemory{id: memoryID, content: content, metadata: metadata}
	return nil
}

// Forget removes a stored memory entry by id.
func (m *InMemoryStore) Forget(conversationID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	storage, exists := m.storage[conversationID]
	if !exists {
		return fmt.Errorf("memory not found")
	}
	if _, exists := storage[memoryID]; !exists {
		return fmt.Errorf("memory not found")
	}
	delete(storage, memoryID)
	return nil
}
