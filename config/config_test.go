package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/layout"
)

const pairConfig = `
[log]
level = "debug"
development = true

[memory]
limit-pages = 16
host-space = 4096
alias-tracking = true

[[types]]
name = "Pair"
kind = "struct"
fields = [{ name = "a", type = "int32" }, { name = "b", type = "int32" }]

[[types]]
name = "Pairs"
kind = "array"
elem = "Pair"
count = 4

[[types]]
name = "Number"
kind = "union"
fields = [{ name = "i", type = "int64" }, { name = "f", type = "double" }]

[[types]]
name = "Context"
kind = "opaque"

[[types]]
name = "pair_t"
kind = "alias"
target = "Pair"

[[functions]]
decl = "int32 sum_pair(Pair* self)"

[[functions]]
decl = "Pair* make_pair(int32 a, int32 b)"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(pairConfig))
	if err != nil {
		t.Fatal(err)
	}

	want := &Config{
		Log:    Log{Level: "debug", Development: true},
		Memory: Memory{LimitPages: 16, HostSpace: 4096, AliasTracking: true},
		Types: []Type{
			{Name: "Pair", Kind: KindStruct, Fields: []Field{{"a", "int32"}, {"b", "int32"}}},
			{Name: "Pairs", Kind: KindArray, Elem: "Pair", Count: 4},
			{Name: "Number", Kind: KindUnion, Fields: []Field{{"i", "int64"}, {"f", "double"}}},
			{Name: "Context", Kind: KindOpaque},
			{Name: "pair_t", Kind: KindAlias, Target: "Pair"},
		},
		Functions: []Function{
			{Decl: "int32 sum_pair(Pair* self)"},
			{Decl: "Pair* make_pair(int32 a, int32 b)"},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"int32 sum_pair(Pair* self)", "Pair* make_pair(int32 a, int32 b)"}, cfg.Declarations()); diff != "" {
		t.Errorf("Declarations mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("[memory]\nalias-tracking = true\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Memory.AliasTracking = true
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		errMsg string
		count  int
	}{
		{"syntax", "[log\nlevel = 1", "parse", 1},
		{"unknown key", "[memory]\nheap = 1", "memory.heap", 1},
		{"bad level", "[log]\nlevel = \"loud\"", "loud", 1},
		{"bad pages", "[memory]\nlimit-pages = 0", "limit-pages", 1},
		{"bad kind", "[[types]]\nname = \"X\"\nkind = \"class\"", "class", 1},
		{"empty struct", "[[types]]\nname = \"X\"\nkind = \"struct\"", "needs fields", 1},
		{"duplicate", "[[types]]\nname = \"X\"\nkind = \"opaque\"\n[[types]]\nname = \"X\"\nkind = \"opaque\"", "twice", 1},
		{"several", "[log]\nlevel = \"loud\"\n[memory]\nhost-space = 3\n[[functions]]\ndecl = \"\"", "host-space", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsConfiguration(err) {
				t.Errorf("not a configuration error: %v", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not mention %q", err, tt.errMsg)
			}
			if n := len(multierr.Errors(err)); n != tt.count {
				t.Errorf("got %d errors, want %d: %v", n, tt.count, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffi.toml")
	if err := os.WriteFile(path, []byte(pairConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != path || len(cfg.Types) != 5 {
		t.Errorf("path=%q types=%d", cfg.Path, len(cfg.Types))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.IsConfiguration(err) {
		t.Errorf("missing file: %v", err)
	}
}

func TestApply(t *testing.T) {
	cfg, err := Parse([]byte(pairConfig))
	if err != nil {
		t.Fatal(err)
	}
	r := layout.NewRegistry()
	if err := cfg.Apply(r); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		kind layout.Kind
		size uint32
	}{
		{"Pair", layout.KindStruct, 8},
		{"Pairs", layout.KindArray, 32},
		{"Number", layout.KindUnion, 8},
		{"Context", layout.KindOpaque, 0},
		{"pair_t", layout.KindStruct, 8},
	}
	for _, tt := range tests {
		d, err := r.Resolve(tt.name)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if d.Kind != tt.kind || d.Size != tt.size {
			t.Errorf("%s: kind=%s size=%d", tt.name, d.Kind, d.Size)
		}
	}

	if err := cfg.Apply(r); err != nil {
		t.Errorf("reapplying identical declarations: %v", err)
	}

	conflict := Default()
	conflict.Types = []Type{{Name: "Pair", Kind: KindStruct, Fields: []Field{{"a", "int64"}}}}
	if err := conflict.Apply(r); !errors.Is(err, &errors.Error{Kind: errors.KindDuplicateType}) {
		t.Errorf("conflicting declaration: %v", err)
	}
}

func TestApply_ForwardReference(t *testing.T) {
	cfg := Default()
	cfg.Types = []Type{
		{Name: "Outer", Kind: KindStruct, Fields: []Field{{"in", "Inner"}}},
		{Name: "Inner", Kind: KindStruct, Fields: []Field{{"x", "int32"}}},
	}
	if err := cfg.Apply(layout.NewRegistry()); !errors.IsConfiguration(err) {
		t.Errorf("forward reference by value: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	for _, l := range []Log{{Level: "warn"}, {Level: "debug", Development: true}} {
		logger, err := NewLogger(l)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := zapcore.ParseLevel(l.Level)
		if !logger.Core().Enabled(want) || logger.Core().Enabled(want-1) {
			t.Errorf("%+v: level not applied", l)
		}
	}
	if _, err := NewLogger(Log{Level: "loud"}); !errors.IsConfiguration(err) {
		t.Errorf("bad level: %v", err)
	}
}
