package tabular

import (
	"context"
	"sync"
)

const (
	OpLoad    = "load"
	OpReplace = "replace"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps tables in process. Hook runs before every operation
// and can fail it or mutate the backend to simulate another writer.
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[string]Table

	Hook func(op, table string) error

	Loads    int
	Replaces int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: map[string]Table{}}
}

func (b *MemoryBackend) Load(_ context.Context, table string) (Table, error) {
	if b.Hook != nil {
		if err := b.Hook(OpLoad, table); err != nil {
			return Table{}, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Loads++
	t, ok := b.tables[table]
	if !ok {
		return Table{}, ErrTableNotFound
	}
	return t.Clone(), nil
}

func (b *MemoryBackend) Replace(_ context.Context, table string, data Table) error {
	if b.Hook != nil {
		if err := b.Hook(OpReplace, table); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Replaces++
	b.tables[table] = data.Clone()
	return nil
}

// Put seeds a table without going through the adapter.
func (b *MemoryBackend) Put(table string, data Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[table] = data.Clone()
}

func (b *MemoryBackend) Snapshot(table string) (Table, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[table]
	return t.Clone(), ok
}
