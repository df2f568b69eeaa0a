package propagate

import (
	"path/filepath"
	"sync"
)

// Guard is the set of destination paths written during the lifetime of the
// process. Paths are never removed.
type Guard struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{paths: make(map[string]struct{})}
}

// Add records path.
func (g *Guard) Add(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.paths[filepath.Clean(path)] = struct{}{}
}

// Contains reports whether path was recorded.
func (g *Guard) Contains(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.paths[filepath.Clean(path)]

	return ok
}

// Len returns the number of recorded paths.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.paths)
}
