package runtime

import (
	"sync"

	"orchestrall/pkg/plugin"
)

// pairLocks serialises lifecycle transitions per (tenant, plugin) pair.
// Two concurrent enables for the same pair must not both construct an
// instance; operations on different pairs stay independent.
type pairLocks struct {
	mu    sync.Mutex
	locks map[Pair]*sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[Pair]*sync.Mutex)}
}

// lock acquires the pair's mutex and returns its unlock function. Mutexes
// are retained for the process lifetime; the pair space is small (tenants x
// installed plugins).
func (p *pairLocks) lock(pair Pair) func() {
	p.mu.Lock()
	m, ok := p.locks[pair]
	if !ok {
		m = &sync.Mutex{}
		p.locks[pair] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// activeMap holds the live plugin instances, at most one per pair.
type activeMap struct {
	mu        sync.RWMutex
	instances map[Pair]plugin.Instance
}

func newActiveMap() *activeMap {
	return &activeMap{instances: make(map[Pair]plugin.Instance)}
}

func (a *activeMap) get(pair Pair) (plugin.Instance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inst, ok := a.instances[pair]
	return inst, ok
}

func (a *activeMap) put(pair Pair, inst plugin.Instance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instances[pair] = inst
}

func (a *activeMap) remove(pair Pair) (plugin.Instance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	inst, ok := a.instances[pair]
	if ok {
		delete(a.instances, pair)
	}
	return inst, ok
}

func (a *activeMap) snapshot() map[Pair]plugin.Instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[Pair]plugin.Instance, len(a.instances))
	for pair, inst := range a.instances {
		out[pair] = inst
	}
	return out
}
