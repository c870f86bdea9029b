package agent

import (
	"context"
	"fmt"
	"sort"
)

// StaticStore serves agent configurations loaded from the server's YAML
// configuration. The set is fixed at construction; it implements Store.
type StaticStore struct {
	agents map[string]Config
}

// NewStaticStore validates and indexes the given configurations. Duplicate
// IDs and invalid configs are rejected.
func NewStaticStore(configs []Config) (*StaticStore, error) {
	agents := make(map[string]Config, len(configs))
	for i := range configs {
		c := configs[i]
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("agent %q: %w", c.ID, err)
		}
		if _, dup := agents[c.ID]; dup {
			return nil, fmt.Errorf("agent: duplicate id %q", c.ID)
		}
		agents[c.ID] = c
	}
	return &StaticStore{agents: agents}, nil
}

// Get retrieves the configuration for id.
func (s *StaticStore) Get(_ context.Context, id string) (Config, error) {
	c, ok := s.agents[id]
	if !ok {
		return Config{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return c, nil
}

// List returns all configurations ordered by ID.
func (s *StaticStore) List(_ context.Context) ([]Config, error) {
	out := make([]Config, 0, len(s.agents))
	for _, c := range s.agents {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
