package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/heap"
	"github.com/wippyai/wasm-ffi/layout"
)

// Defaults applied by Default and to unset fields of a parsed file.
const (
	DefaultLevel      = "info"
	DefaultLimitPages = 256
	DefaultHostSpace  = heap.PageSize
)

// Type kinds accepted in [[types]] tables.
const (
	KindStruct = "struct"
	KindUnion  = "union"
	KindArray  = "array"
	KindOpaque = "opaque"
	KindAlias  = "alias"
)

// Config is the root of a configuration file.
type Config struct {
	Log       Log        `toml:"log"`
	Memory    Memory     `toml:"memory"`
	WASI      WASI       `toml:"wasi"`
	Types     []Type     `toml:"types"`
	Functions []Function `toml:"functions"`

	// Path is the file the configuration was loaded from, if any.
	Path string `toml:"-"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Memory configures the wasm runtime and the host space.
type Memory struct {
	// LimitPages caps every module memory, in 64 KiB pages.
	LimitPages uint32 `toml:"limit-pages"`
	// HostSpace is the number of bytes reserved for host-allocated objects.
	// Zero disables host allocation.
	HostSpace uint32 `toml:"host-space"`
	// AliasTracking turns double release of a foreign address into an error.
	AliasTracking bool `toml:"alias-tracking"`
}

// WASI provides wasi_snapshot_preview1 to libraries built against it, such
// as C libraries compiled with wasi-sdk.
type WASI struct {
	Enabled bool `toml:"enabled"`
	// Stdio connects the module's stdout and stderr to the process.
	Stdio bool `toml:"stdio"`
}

// Type declares a type for layout.Registry.
type Type struct {
	Name   string  `toml:"name"`
	Kind   string  `toml:"kind"`
	Fields []Field `toml:"fields"`
	Elem   string  `toml:"elem"`
	Count  uint32  `toml:"count"`
	Target string  `toml:"target"`
}

// Field is a struct or union member.
type Field struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// Function declares a foreign function in C-like syntax.
type Function struct {
	Decl string `toml:"decl"`
}

// Default returns a configuration with default logging and memory settings
// and no declarations.
func Default() *Config {
	return &Config{
		Log: Log{Level: DefaultLevel},
		Memory: Memory{
			LimitPages: DefaultLimitPages,
			HostSpace:  DefaultHostSpace,
		},
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Path(path).Cause(err).Detail("cannot read %s", path).Build()
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.Path, err = filepath.Abs(path); err != nil {
		cfg.Path = path
	}
	return cfg, nil
}

// Parse decodes TOML data over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Cause(err).Detail("parse: %v", err).Build()
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs error
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, invalid([]string{"log", "level"}, "unknown level %q", c.Log.Level))
	}
	if c.Memory.LimitPages == 0 || c.Memory.LimitPages > 65536 {
		errs = multierr.Append(errs, invalid([]string{"memory", "limit-pages"}, "must be in 1..65536, got %d", c.Memory.LimitPages))
	}
	if c.Memory.HostSpace%8 != 0 {
		errs = multierr.Append(errs, invalid([]string{"memory", "host-space"}, "must be a multiple of 8, got %d", c.Memory.HostSpace))
	}

	seen := make(map[string]bool, len(c.Types))
	for i, t := range c.Types {
		errs = multierr.Append(errs, t.validate(i))
		if t.Name != "" && seen[t.Name] {
			errs = multierr.Append(errs, invalid([]string{"types", t.Name}, "declared twice"))
		}
		seen[t.Name] = true
	}
	for i, f := range c.Functions {
		if strings.TrimSpace(f.Decl) == "" {
			errs = multierr.Append(errs, invalid([]string{"functions", strconv.Itoa(i)}, "empty declaration"))
		}
	}
	return errs
}

func (t Type) validate(i int) error {
	path := []string{"types", t.Name}
	if t.Name == "" {
		return invalid([]string{"types", strconv.Itoa(i)}, "missing name")
	}
	switch t.Kind {
	case KindStruct, KindUnion:
		if len(t.Fields) == 0 {
			return invalid(path, "%s needs fields", t.Kind)
		}
		for _, f := range t.Fields {
			if f.Name == "" || f.Type == "" {
				return invalid(path, "field needs name and type")
			}
		}
	case KindArray:
		if t.Elem == "" || t.Count == 0 {
			return invalid(path, "array needs elem and count")
		}
	case KindAlias:
		if t.Target == "" {
			return invalid(path, "alias needs target")
		}
	case KindOpaque:
	default:
		return invalid(path, "unknown kind %q", t.Kind)
	}
	return nil
}

// Apply defines the declared types in r, in file order. A type may only
// refer by value to types declared before it.
func (c *Config) Apply(r *layout.Registry) error {
	for _, t := range c.Types {
		if err := t.define(r); err != nil {
			return err
		}
	}
	return nil
}

func (t Type) define(r *layout.Registry) error {
	var err error
	switch t.Kind {
	case KindStruct, KindUnion:
		fields := make([]layout.FieldSpec, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = layout.F(f.Name, f.Type)
		}
		if t.Kind == KindStruct {
			_, err = r.DefineStruct(t.Name, fields...)
		} else {
			_, err = r.DefineUnion(t.Name, fields...)
		}
	case KindArray:
		_, err = r.DefineArray(t.Name, t.Elem, t.Count)
	case KindOpaque:
		_, err = r.DefineOpaque(t.Name)
	case KindAlias:
		err = r.Alias(t.Name, t.Target)
	default:
		err = invalid([]string{"types", t.Name}, "unknown kind %q", t.Kind)
	}
	return err
}

// Declarations returns the declared function signatures.
func (c *Config) Declarations() []string {
	out := make([]string, 0, len(c.Functions))
	for _, f := range c.Functions {
		out = append(out, f.Decl)
	}
	return out
}

// NewLogger builds a zap logger for the log settings.
func NewLogger(l Log) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, invalid([]string{"log", "level"}, "unknown level %q", l.Level)
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func invalid(path []string, format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(path...).Detail(format, args...).Build()
}
