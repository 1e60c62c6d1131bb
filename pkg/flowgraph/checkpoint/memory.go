package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. Contents are lost on
// exit, so it only suits tests and single-process deployments that do not
// need restart recovery.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]map[string]entry
	closed bool
}

type entry struct {
	data      []byte
	sequence  int
	timestamp time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]map[string]entry)}
}

func (m *MemoryStore) Save(_ context.Context, runID, nodeID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	run := m.runs[runID]
	if run == nil {
		run = make(map[string]entry)
		m.runs[runID] = run
	}

	seq := 1
	for _, e := range run {
		if e.sequence >= seq {
			seq = e.sequence + 1
		}
	}

	run[nodeID] = entry{
		data:      append([]byte(nil), data...),
		sequence:  seq,
		timestamp: time.Now().UTC(),
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, runID, nodeID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	e, ok := m.runs[runID][nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (m *MemoryStore) List(_ context.Context, runID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run := m.runs[runID]
	infos := make([]Info, 0, len(run))
	for nodeID, e := range run {
		infos = append(infos, Info{
			RunID:     runID,
			NodeID:    nodeID,
			Sequence:  e.sequence,
			Timestamp: e.timestamp,
			Size:      int64(len(e.data)),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})
	return infos, nil
}

func (m *MemoryStore) Runs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(m.runs))
	for id, run := range m.runs {
		if len(run) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(_ context.Context, runID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if run, ok := m.runs[runID]; ok {
		delete(run, nodeID)
		if len(run) == 0 {
			delete(m.runs, runID)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.runs, runID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.runs = nil
	return nil
}

// Len returns the total number of checkpoints across all runs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, run := range m.runs {
		n += len(run)
	}
	return n
}
