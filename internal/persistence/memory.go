package persistence

import (
	"sort"
	"sync"
)

// MemoryEngine is an in-memory implementation of Engine
type MemoryEngine struct {
	mu         sync.RWMutex
	partitions map[string][][]byte
}

// NewMemoryEngine creates a new in-memory persistence engine
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		partitions: make(map[string][][]byte),
	}
}

func (m *MemoryEngine) Append(partition string, record []byte) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.partitions[partition] = append(m.partitions[partition], append([]byte(nil), record...))
	return nil
}

func (m *MemoryEngine) Read(partition string) ([][]byte, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.partitions[partition]
	records := make([][]byte, len(stored))
	for i, r := range stored {
		records[i] = append([]byte(nil), r...)
	}
	return records, nil
}

func (m *MemoryEngine) Partitions() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryEngine) Close() error {
	return nil
}
