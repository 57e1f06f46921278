package replication

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Manager starts and stops a set of replicators together.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]Replicator
	order     []string
}

func NewManager() *Manager {
	return &Manager{instances: map[string]Replicator{}}
}

// Add registers r under the name of its collection, replacing any replicator
// of the same collection.
func (m *Manager) Add(r Replicator) *Manager {
	name := r.Collection().Name()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[name]; !ok {
		m.order = append(m.order, name)
	}
	m.instances[name] = r
	return m
}

// Get returns the replicator of collection, or nil.
func (m *Manager) Get(collection string) Replicator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[collection]
}

func (m *Manager) all() []Replicator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Replicator, 0, len(m.order))
	for _, name := range m.order {
		result = append(result, m.instances[name])
	}
	return result
}

// Start starts every replicator concurrently and returns the first error
// once all of them are done starting.
func (m *Manager) Start(ctx context.Context, awaitInitial bool) error {
	var g errgroup.Group
	for _, r := range m.all() {
		g.Go(func() error {
			return errors.Wrapf(r.Start(ctx, awaitInitial), "start %s", r.Collection().Name())
		})
	}
	return g.Wait()
}

func (m *Manager) Stop(ctx context.Context) error {
	var g errgroup.Group
	for _, r := range m.all() {
		g.Go(func() error {
			return errors.Wrapf(r.Stop(ctx), "stop %s", r.Collection().Name())
		})
	}
	return g.Wait()
}
