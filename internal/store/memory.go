package store

import (
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

type key struct {
	multisig solana.PublicKey
	index    uint64
}

// Memory keeps entries for the lifetime of the process.
type Memory struct {
	mu      sync.RWMutex
	entries map[key]*Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[key]*Entry)}
}

func (m *Memory) Put(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key{e.Multisig, e.Index}] = e.clone()
	return nil
}

func (m *Memory) Get(_ context.Context, multisig solana.PublicKey, index uint64) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key{multisig, index}]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (m *Memory) List(_ context.Context, multisig solana.PublicKey) ([]*Entry, error) {
	return m.filter(func(e *Entry) bool { return e.Multisig.Equals(multisig) }), nil
}

func (m *Memory) Pending(_ context.Context) ([]*Entry, error) {
	return m.filter(func(e *Entry) bool { return !e.Status.Terminal() }), nil
}

func (m *Memory) filter(keep func(*Entry) bool) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Multisig.Equals(out[j].Multisig) {
			return out[i].Multisig.String() < out[j].Multisig.String()
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (m *Memory) Close() error { return nil }
