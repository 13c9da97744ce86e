package vstream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocol versions. Version 1 and 2 are the legacy framings, decodable
// forever; new streams are written as CurrentVersion.
const (
	Version1       = 1
	Version2       = 2
	CurrentVersion = 3
)

// DefaultMaxDepth is the container nesting ceiling
const DefaultMaxDepth = 32

// Config holds the stream settings shared by encoders and decoders. Both
// ends of a stream must agree on the cache settings, they are not part of
// the encoded stream.
type Config struct {
	// Version is the protocol version written by encoders and the highest
	// version accepted by decoders.
	Version int `yaml:"version"`

	// ObjectCacheSize is the value cache slot count, 0 disables it.
	ObjectCacheSize int `yaml:"object_cache_size"`

	// TypeCacheSize is the type reference cache slot count, 0 disables it.
	TypeCacheSize int `yaml:"type_cache_size"`

	// TypeHashCache writes Serializable types in descriptors as a hash of
	// their canonical name instead of the name itself.
	TypeHashCache bool `yaml:"type_hash_cache"`

	// MaxDepth bounds container and Serializable nesting.
	MaxDepth int `yaml:"max_depth"`

	// TempDir is where embedded streams are materialized on decode. Empty
	// means the system temp directory.
	TempDir string `yaml:"temp_dir"`

	// Limits bounds the lengths of the top-level value.
	Limits *FieldOptions `yaml:"limits,omitempty"`
}

// DefaultConfig returns the settings used when no option overrides them
func DefaultConfig() Config {
	return Config{
		Version:  CurrentVersion,
		MaxDepth: DefaultMaxDepth,
	}
}

// LoadConfig reads a YAML config file on top of the defaults
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, wrapError("load config", configf("read %s: %w", path, err))
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of the defaults and validates the result
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, wrapError("parse config", configf("%w", err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field, reporting all problems at once
func (c Config) Validate() error {
	var errs []error

	if c.Version < Version1 || c.Version > CurrentVersion {
		errs = append(errs, fmt.Errorf("version %d must be between %d and %d", c.Version, Version1, CurrentVersion))
	}
	if c.ObjectCacheSize < 0 || c.ObjectCacheSize > MaxCacheSize {
		errs = append(errs, fmt.Errorf("object_cache_size %d must be between 0 and %d", c.ObjectCacheSize, MaxCacheSize))
	}
	if c.TypeCacheSize < 0 || c.TypeCacheSize > MaxCacheSize {
		errs = append(errs, fmt.Errorf("type_cache_size %d must be between 0 and %d", c.TypeCacheSize, MaxCacheSize))
	}
	if c.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("max_depth %d must be positive", c.MaxDepth))
	}
	if c.Limits != nil {
		if err := c.Limits.validate("limits"); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &SerializerError{Kind: ErrConfig, Op: "validate config", Err: errors.Join(errs...)}
	}
	return nil
}

// FieldOptions bounds the length of a string, byte slice or container, and
// carries the bounds of dict keys and of elements.
type FieldOptions struct {
	MinLen int           `yaml:"min_len"`
	MaxLen int           `yaml:"max_len"` // 0 is unbounded
	Key    *FieldOptions `yaml:"key,omitempty"`
	Value  *FieldOptions `yaml:"value,omitempty"`
}

func (o *FieldOptions) validate(path string) error {
	if o == nil {
		return nil
	}
	if o.MinLen < 0 || o.MaxLen < 0 {
		return fmt.Errorf("%s: negative length bound", path)
	}
	if o.MaxLen > 0 && o.MinLen > o.MaxLen {
		return fmt.Errorf("%s: min_len %d above max_len %d", path, o.MinLen, o.MaxLen)
	}
	if err := o.Key.validate(path + ".key"); err != nil {
		return err
	}
	return o.Value.validate(path + ".value")
}

// check reports a length outside the bounds
func (o *FieldOptions) check(n int) error {
	if o == nil {
		return nil
	}
	if n < o.MinLen || (o.MaxLen > 0 && n > o.MaxLen) {
		if o.MaxLen > 0 {
			return configf("length %d outside [%d,%d]", n, o.MinLen, o.MaxLen)
		}
		return configf("length %d below minimum %d", n, o.MinLen)
	}
	return nil
}

func (o *FieldOptions) key() *FieldOptions {
	if o == nil {
		return nil
	}
	return o.Key
}

func (o *FieldOptions) value() *FieldOptions {
	if o == nil {
		return nil
	}
	return o.Value
}

// settings is the resolved state of a set of options
type settings struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
	temp     TempStreamFactory
	visitor  Visitor
}

// Option customizes an Encoder, Decoder or one Serialize call
type Option func(*settings)

func resolveSettings(opts []Option) (settings, error) {
	s := settings{cfg: DefaultConfig()}
	for _, o := range opts {
		o(&s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.temp == nil {
		s.temp = FileTempStreams(s.cfg.TempDir)
	}
	return s, s.cfg.Validate()
}

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(cfg Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithVersion selects the protocol version written, or the highest accepted
func WithVersion(v int) Option {
	return func(s *settings) { s.cfg.Version = v }
}

// WithObjectCache sets the value cache size
func WithObjectCache(size int) Option {
	return func(s *settings) { s.cfg.ObjectCacheSize = size }
}

// WithTypeCache sets the type reference cache size
func WithTypeCache(size int) Option {
	return func(s *settings) { s.cfg.TypeCacheSize = size }
}

// WithTypeHashCache toggles hashed Serializable descriptors
func WithTypeHashCache(on bool) Option {
	return func(s *settings) { s.cfg.TypeHashCache = on }
}

// WithMaxDepth sets the nesting ceiling
func WithMaxDepth(depth int) Option {
	return func(s *settings) { s.cfg.MaxDepth = depth }
}

// WithLimits bounds the lengths of the top-level value
func WithLimits(o *FieldOptions) Option {
	return func(s *settings) { s.cfg.Limits = o }
}

// WithRegistry supplies the type registry. Without it each Encoder or
// Decoder owns a fresh registry holding only the built-ins.
func WithRegistry(r *Registry) Option {
	return func(s *settings) { s.registry = r }
}

// WithLogger directs debug records to l
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTempStreams sets the factory that materializes embedded streams
func WithTempStreams(f TempStreamFactory) Option {
	return func(s *settings) { s.temp = f }
}
