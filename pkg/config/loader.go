package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// envPrefix namespaces every environment variable the loader reads.
const envPrefix = "PULSTRATE_"

// loader implements the Service interface for configuration management.
type loader struct {
	koanf         *koanf.Koanf
	validator     *validator.Validate
	metadata      Metadata
	metadataMu    sync.RWMutex
	currentConfig atomic.Value // stores *Config
}

// NewService creates a new configuration service with validation support.
func NewService() Service {
	return &loader{
		koanf:     koanf.New("."),
		validator: validator.New(),
		metadata: Metadata{
			Sources: make(map[string]SourceType),
		},
	}
}

// Load merges configuration from defaults, the given sources, and the
// environment, in that precedence order, then validates the result.
func (l *loader) Load(_ context.Context, sources ...Source) (*Config, error) {
	l.reset()
	if err := l.loadDefaults(); err != nil {
		return nil, err
	}
	if err := l.loadSources(sources); err != nil {
		return nil, err
	}
	if err := l.loadEnvironment(); err != nil {
		return nil, err
	}
	config, err := l.unmarshalAndValidate()
	if err != nil {
		return nil, err
	}
	l.currentConfig.Store(config)
	return config, nil
}

func (l *loader) reset() {
	l.koanf.Cut("")
	l.metadataMu.Lock()
	l.metadata.Sources = make(map[string]SourceType)
	l.metadata.LoadedAt = time.Now()
	l.metadataMu.Unlock()
}

func (l *loader) loadDefaults() error {
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	for _, key := range l.koanf.Keys() {
		l.trackSource(key, SourceDefault)
	}
	return nil
}

// transformEnvKey converts a prefix-stripped environment variable name to a
// koanf path: SERVER_CORS_ENABLED -> server.cors_enabled. The first segment
// names the section; the rest stays joined because field names themselves
// contain underscores.
func transformEnvKey(s string) string {
	s = strings.ToLower(s)
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_'
	})
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}

func (l *loader) loadEnvironment() error {
	keysBefore := make(map[string]any)
	for _, key := range l.koanf.Keys() {
		keysBefore[key] = l.koanf.Get(key)
	}
	envToPath := GenerateEnvToConfigMap()
	if err := l.koanf.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, envPrefix)
			if configPath, ok := envToPath[key]; ok {
				return configPath, value
			}
			return transformEnvKey(key), value
		},
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	for _, key := range l.koanf.Keys() {
		valBefore, existed := keysBefore[key]
		if valAfter := l.koanf.Get(key); !existed || !reflect.DeepEqual(valBefore, valAfter) {
			l.trackSource(key, SourceEnv)
		}
	}
	return nil
}

func (l *loader) loadSources(sources []Source) error {
	for _, source := range sources {
		if source == nil || source.Type() == SourceEnv || source.Type() == SourceDefault {
			continue
		}
		if err := l.loadSource(source); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadSource(source Source) error {
	data, err := source.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", source.Type(), err)
	}
	if len(data) == 0 {
		return nil
	}
	keysBefore := make(map[string]any)
	for _, key := range l.koanf.Keys() {
		keysBefore[key] = l.koanf.Get(key)
	}
	// Merge key by key so values absent from this source keep their current
	// setting instead of being reset.
	for key, value := range flattenMap("", data) {
		if err := l.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from source %s: %w", key, source.Type(), err)
		}
	}
	for _, key := range l.koanf.Keys() {
		valBefore, existed := keysBefore[key]
		if valAfter := l.koanf.Get(key); !existed || !reflect.DeepEqual(valBefore, valAfter) {
			l.trackSource(key, source.Type())
		}
	}
	return nil
}

// flattenMap flattens a nested map into dot-notation keys. Slices stay
// intact so list sections like groups merge as whole values.
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

// stringToDurationHook parses durations with str2duration so extended units
// like "1d2h" work alongside the standard go forms.
func stringToDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	raw, ok := data.(string)
	if !ok {
		return data, nil
	}
	if raw == "" {
		return time.Duration(0), nil
	}
	return str2duration.ParseDuration(raw)
}

// sensitiveStringDecodeHook converts plain strings into SensitiveString.
func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

func (l *loader) unmarshalAndValidate() (*Config, error) {
	var config Config
	if err := l.koanf.UnmarshalWithConf("", &config, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &config,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				stringToDurationHook,
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// Validate checks if the configuration meets all validation requirements.
func (l *loader) Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(config); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCustom(config)
}

// GetSource returns the source type for a specific configuration key.
func (l *loader) GetSource(key string) SourceType {
	l.metadataMu.RLock()
	defer l.metadataMu.RUnlock()
	if source, ok := l.metadata.Sources[key]; ok {
		return source
	}
	return SourceDefault
}

func (l *loader) trackSource(key string, source SourceType) {
	l.metadataMu.Lock()
	defer l.metadataMu.Unlock()
	l.metadata.Sources[key] = source
}

// validateCustom enforces cross-field constraints struct tags cannot express.
func validateCustom(config *Config) error {
	if config.Database.Driver == "postgres" && config.Database.ConnString == "" {
		if config.Database.Host == "" || config.Database.Port == "" ||
			config.Database.User == "" || config.Database.DBName == "" {
			return fmt.Errorf("postgres configuration incomplete: either conn_string or individual components required")
		}
	}
	if config.Redis.Enabled && config.Redis.URL == "" && config.Redis.Host == "" {
		return fmt.Errorf("redis enabled but neither url nor host is set")
	}
	if config.Engine.DefaultTaskTimeout <= 0 {
		return fmt.Errorf("engine default_task_timeout must be positive")
	}
	if config.Engine.QueuePollInterval <= 0 {
		return fmt.Errorf("engine queue_poll_interval must be positive")
	}
	if config.Engine.ShutdownTimeout <= 0 {
		return fmt.Errorf("engine shutdown_timeout must be positive")
	}
	if config.Engine.DispatcherStaleThreshold <= config.Engine.DispatcherHeartbeatInterval {
		return fmt.Errorf("dispatcher stale threshold must be greater than heartbeat interval")
	}
	seen := make(map[string]struct{}, len(config.Groups))
	for _, g := range config.Groups {
		if _, dup := seen[g.ID]; dup {
			return fmt.Errorf("duplicate group id %q", g.ID)
		}
		seen[g.ID] = struct{}{}
	}
	return nil
}
