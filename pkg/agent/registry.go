package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileRegistry serves agent definitions from a JSON file, keyed by domain
// then agent id:
//
//	{"dom-1": {"tutor": {"id": "tutor", "persona": "..."}}}
//
// The file is read once at construction; Reload picks up edits.
type FileRegistry struct {
	path string

	mu     sync.RWMutex
	agents map[string]map[string]*Definition
}

func NewFileRegistry(path string) (*FileRegistry, error) {
	registry := &FileRegistry{path: path}
	if err := registry.Reload(); err != nil {
		return nil, err
	}

	return registry, nil
}

func (r *FileRegistry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading agent definitions from %s: %w", r.path, err)
	}

	var agents map[string]map[string]*Definition
	if err := json.Unmarshal(raw, &agents); err != nil {
		return fmt.Errorf("parsing agent definitions from %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()

	return nil
}

func (r *FileRegistry) Get(_ context.Context, domainID, agentID string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definition, ok := r.agents[domainID][agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s in domain %s", ErrAgentNotFound, agentID, domainID)
	}

	return definition, nil
}

var _ Registry = (*FileRegistry)(nil)
