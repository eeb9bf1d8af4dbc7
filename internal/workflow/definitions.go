package workflow

import (
	"sort"
	"sync"
)

// Definitions is a thread-safe set of workflow definitions, keyed by id.
// Definitions are authored externally; this core only reads them.
type Definitions struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewDefinitions() *Definitions {
	return &Definitions{defs: map[string]Definition{}}
}

func (d *Definitions) Put(def Definition) {
	d.mu.Lock()
	d.defs[def.ID] = def
	d.mu.Unlock()
}

func (d *Definitions) Get(id string) (Definition, bool) {
	d.mu.RLock()
	def, ok := d.defs[id]
	d.mu.RUnlock()
	return def, ok
}

func (d *Definitions) Remove(id string) {
	d.mu.Lock()
	delete(d.defs, id)
	d.mu.Unlock()
}

func (d *Definitions) List() []Definition {
	d.mu.RLock()
	out := make([]Definition, 0, len(d.defs))
	for _, def := range d.defs {
		out = append(out, def)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
