package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// envProvider marks environment variables as a source for precedence
// tracking. The actual loading happens through koanf's native env provider
// in the loader, which applies env vars after every other source.
type envProvider struct{}

// NewEnvProvider creates an environment variable configuration source.
func NewEnvProvider() Source {
	return &envProvider{}
}

func (e *envProvider) Load() (map[string]any, error) {
	return make(map[string]any), nil
}

// Watch is a no-op; environment variables don't change at runtime.
func (e *envProvider) Watch(_ context.Context, _ func()) error {
	return nil
}

func (e *envProvider) Type() SourceType {
	return SourceEnv
}

func (e *envProvider) Close() error {
	return nil
}

// cliProvider carries flag overrides keyed by dotted config path, e.g.
// "server.port" from --port.
type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider creates a configuration source from CLI flag values.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	config := make(map[string]any)
	for path, value := range c.flags {
		if err := setNested(config, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", path, err)
		}
	}
	return config, nil
}

// Watch is a no-op; flags don't change at runtime.
func (c *cliProvider) Watch(_ context.Context, _ func()) error {
	return nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

func (c *cliProvider) Close() error {
	return nil
}

// setNested sets a value in a nested map structure using dot notation.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// yamlProvider implements Source for a YAML file with fsnotify hot reload.
type yamlProvider struct {
	path      string
	watcher   *Watcher
	watcherMu sync.Mutex
	watchOnce sync.Once
	closeOnce sync.Once
}

// NewYAMLProvider creates a YAML file configuration source. A missing file
// is not an error; it simply contributes nothing.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	data, err := os.ReadFile(y.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	// Nil values would otherwise override defaults during the merge.
	return filterNilValues(config), nil
}

func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if filtered := filterNilValues(nested); len(filtered) > 0 {
				result[k] = filtered
			}
			continue
		}
		result[k] = v
	}
	return result
}

// Watch monitors the YAML file for changes.
func (y *yamlProvider) Watch(ctx context.Context, callback func()) error {
	var watchErr error
	y.watchOnce.Do(func() {
		y.watcherMu.Lock()
		defer y.watcherMu.Unlock()
		watcher, err := NewWatcher()
		if err != nil {
			watchErr = fmt.Errorf("failed to create watcher: %w", err)
			return
		}
		if err := watcher.Watch(ctx, y.path); err != nil {
			watchErr = fmt.Errorf("failed to watch YAML file: %w", err)
			return
		}
		y.watcher = watcher
	})
	if watchErr != nil {
		return watchErr
	}
	y.watcherMu.Lock()
	defer y.watcherMu.Unlock()
	if y.watcher != nil {
		y.watcher.OnChange(callback)
	}
	return nil
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}

func (y *yamlProvider) Close() error {
	var closeErr error
	y.closeOnce.Do(func() {
		y.watcherMu.Lock()
		defer y.watcherMu.Unlock()
		if y.watcher != nil {
			closeErr = y.watcher.Close()
			y.watcher = nil
		}
	})
	return closeErr
}

// defaultProvider serves the built-in defaults.
type defaultProvider struct{}

// NewDefaultProvider creates a source backed by Default().
func NewDefaultProvider() Source {
	return &defaultProvider{}
}

// Load returns nothing; the loader seeds defaults from the Default() struct
// directly so types survive the merge. The provider exists for precedence
// bookkeeping in Manager source lists.
func (d *defaultProvider) Load() (map[string]any, error) {
	return make(map[string]any), nil
}

// Watch is a no-op; defaults don't change at runtime.
func (d *defaultProvider) Watch(_ context.Context, _ func()) error {
	return nil
}

func (d *defaultProvider) Type() SourceType {
	return SourceDefault
}

func (d *defaultProvider) Close() error {
	return nil
}
