package store

import (
	"sync"

	"github.com/identitykit/identitykit/internal/idgen"
)

// Registry hands out per-project state, creating it on first use. Project
// ids never collide across the registry, so states are fully independent.
type Registry struct {
	mu       sync.Mutex
	gen      *idgen.Generator
	projects map[string]*ProjectState
}

// NewRegistry builds an empty registry. gen may be nil for crypto/rand.
func NewRegistry(gen *idgen.Generator) *Registry {
	if gen == nil {
		gen = idgen.New(nil)
	}
	return &Registry{
		gen:      gen,
		projects: make(map[string]*ProjectState),
	}
}

// Project returns the state for projectID, creating it when absent.
func (r *Registry) Project(projectID string) *ProjectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.projects[projectID]
	if !ok {
		ps = NewProjectState(projectID, r.gen)
		r.projects[projectID] = ps
	}
	return ps
}

// RemoveProject drops all state for projectID.
func (r *Registry) RemoveProject(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, projectID)
}
