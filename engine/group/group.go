package group

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// DefaultID is the well-known group every task falls into when it does
	// not name one.
	DefaultID = "default"
	// DefaultMaxParallelism is the concurrency cap applied to the default
	// group and to groups created without an explicit cap.
	DefaultMaxParallelism = 32
)

var (
	ErrNotFound      = errors.New("group not found")
	ErrAlreadyExists = errors.New("group already exists")
	ErrProtected     = errors.New("default group cannot be deleted")
)

// Config describes one concurrency pool. MaxParallelism bounds how many leaf
// tasks of the group may execute at once; parents are exempt.
type Config struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MaxParallelism int    `json:"max_parallelism"`
}

func (c *Config) normalize() error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return fmt.Errorf("group id is required")
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.MaxParallelism < 0 {
		return fmt.Errorf("group %q: max_parallelism must not be negative", c.ID)
	}
	if c.MaxParallelism == 0 {
		c.MaxParallelism = DefaultMaxParallelism
	}
	return nil
}

// Registry holds group configurations. The default group always exists and
// cannot be removed. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]Config
}

// NewRegistry seeds the default group with defaultCap (0 means
// DefaultMaxParallelism).
func NewRegistry(defaultCap int) *Registry {
	if defaultCap <= 0 {
		defaultCap = DefaultMaxParallelism
	}
	return &Registry{
		groups: map[string]Config{
			DefaultID: {ID: DefaultID, Name: "Default", MaxParallelism: defaultCap},
		},
	}
}

// Seed upserts the given configurations, typically from app config at boot.
func (r *Registry) Seed(configs []Config) error {
	for _, cfg := range configs {
		if err := cfg.normalize(); err != nil {
			return err
		}
		r.mu.Lock()
		r.groups[cfg.ID] = cfg
		r.mu.Unlock()
	}
	return nil
}

// Create registers a new group.
func (r *Registry) Create(cfg Config) (Config, error) {
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[cfg.ID]; ok {
		return Config{}, fmt.Errorf("group %q: %w", cfg.ID, ErrAlreadyExists)
	}
	r.groups[cfg.ID] = cfg
	return cfg, nil
}

// Update replaces an existing group's configuration.
func (r *Registry) Update(cfg Config) (Config, error) {
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[cfg.ID]; !ok {
		return Config{}, fmt.Errorf("group %q: %w", cfg.ID, ErrNotFound)
	}
	r.groups[cfg.ID] = cfg
	return cfg, nil
}

// Get returns the configuration for id.
func (r *Registry) Get(id string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.groups[id]
	if !ok {
		return Config{}, fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	return cfg, nil
}

// Delete removes a group. The default group is protected.
func (r *Registry) Delete(id string) error {
	if id == DefaultID {
		return ErrProtected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[id]; !ok {
		return fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	delete(r.groups, id)
	return nil
}

// List returns all groups sorted by id.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.groups))
	for _, cfg := range r.groups {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxParallelism returns the cap for id, falling back to the default group's
// cap when the group is not registered. Tasks may reference groups that were
// never configured; they still get bounded concurrency.
func (r *Registry) MaxParallelism(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.groups[id]; ok {
		return cfg.MaxParallelism
	}
	return r.groups[DefaultID].MaxParallelism
}
