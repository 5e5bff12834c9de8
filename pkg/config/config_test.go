package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const machine = `
# machine
[move]
kinematics: CoreXY
axes = XYZ
ring_size: 40   ; DDAs in ring 0
grace_period: 10
simulate: yes

[Axis  X]
steps_per_mm: 80.5
drivers: 0, 3
`

func TestLoadString(t *testing.T) {
	cfg, err := LoadString(machine)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if got := cfg.SectionNames(); !reflect.DeepEqual(got, []string{"move", "axis x"}) {
		t.Fatalf("sections = %v", got)
	}
	if !cfg.HasSection("AXIS X") {
		t.Error("section names should be case insensitive")
	}

	mv, err := cfg.GetSection("move")
	if err != nil {
		t.Fatalf("GetSection(move): %v", err)
	}
	kin, err := mv.GetChoice("kinematics", []string{"cartesian", "corexy"})
	if err != nil || kin != "corexy" {
		t.Errorf("kinematics = %q, %v", kin, err)
	}
	if axes, _ := mv.Get("axes"); axes != "XYZ" {
		t.Errorf("axes = %q", axes)
	}
	if n, _ := mv.GetInt("ring_size"); n != 40 {
		t.Errorf("ring_size = %d, comment not stripped?", n)
	}
	if b, _ := mv.GetBool("simulate"); !b {
		t.Error("simulate should be true")
	}

	ax := cfg.GetSectionOptional("axis x")
	if ax == nil {
		t.Fatal("missing [axis x]")
	}
	if spm, _ := ax.GetFloat("steps_per_mm"); spm != 80.5 {
		t.Errorf("steps_per_mm = %v", spm)
	}
	if drv, _ := ax.GetIntList("drivers", ","); !reflect.DeepEqual(drv, []int{0, 3}) {
		t.Errorf("drivers = %v", drv)
	}
}

func TestLoadStringSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		line int
	}{
		{"option outside section", "steps: 1\n", 1},
		{"empty header", "[move]\n[ ]\n", 2},
		{"unterminated header", "[move\n", 1},
		{"no separator", "[move]\nring_size 40\n", 2},
		{"include in string", "[include other.cfg]\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadString(tt.data)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Line != tt.line {
				t.Errorf("line = %d, want %d", ce.Line, tt.line)
			}
		})
	}
}

func TestRepeatedSectionMerges(t *testing.T) {
	cfg, err := LoadString("[move]\naxes: XY\n[move]\nextruders: 2\naxes: XYZ\n")
	if err != nil {
		t.Fatal(err)
	}
	mv, _ := cfg.GetSection("move")
	if axes, _ := mv.Get("axes"); axes != "XYZ" {
		t.Errorf("later value should win, got %q", axes)
	}
	if n, _ := mv.GetInt("extruders"); n != 2 {
		t.Errorf("extruders = %d", n)
	}
}

func TestGetters(t *testing.T) {
	cfg, _ := LoadString("[s]\nint: 7\nfloat: 2.5\nbad: abc\nflag: off\nlist: 1.5,,2\n")
	s, _ := cfg.GetSection("s")

	if v, err := s.GetInt("missing", 3); err != nil || v != 3 {
		t.Errorf("fallback int = %d, %v", v, err)
	}
	if _, err := s.GetInt("missing"); err == nil {
		t.Error("missing option without fallback should fail")
	}
	if _, err := s.GetInt("bad"); err == nil {
		t.Error("non numeric int should fail")
	}
	if _, err := s.GetFloat("bad"); err == nil {
		t.Error("non numeric float should fail")
	}
	if v, _ := s.GetBool("flag", true); v {
		t.Error("flag should be false")
	}
	if _, err := s.GetChoice("bad", []string{"x", "y"}); err == nil {
		t.Error("bad choice should fail")
	}
	if l, _ := s.GetFloatList("list", ","); !reflect.DeepEqual(l, []float64{1.5, 2}) {
		t.Errorf("list = %v", l)
	}
	if l, err := s.GetIntList("none", ",", []int{4}); err != nil || !reflect.DeepEqual(l, []int{4}) {
		t.Errorf("fallback list = %v, %v", l, err)
	}
}

func TestBounds(t *testing.T) {
	cfg, _ := LoadString("[s]\nv: 5\n")
	s, _ := cfg.GetSection("s")
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }

	tests := []struct {
		name   string
		bounds FloatBounds
		ok     bool
	}{
		{"no bounds", FloatBounds{}, true},
		{"min inclusive", FloatBounds{MinVal: f(5)}, true},
		{"min", FloatBounds{MinVal: f(6)}, false},
		{"max", FloatBounds{MaxVal: f(4)}, false},
		{"above exclusive", FloatBounds{Above: f(5)}, false},
		{"below", FloatBounds{Below: f(10)}, true},
		{"below exclusive", FloatBounds{Below: f(5)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GetFloatWithBounds("v", tt.bounds)
			if (err == nil) != tt.ok {
				t.Errorf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	if _, err := s.GetIntWithBounds("v", i(0), i(4)); err == nil {
		t.Error("5 should exceed max 4")
	}
	if _, err := s.GetFloatWithBounds("missing", FloatBounds{Above: f(0)}, 0); err == nil {
		t.Error("fallback should be bounds checked")
	}
}

func TestUnusedTracking(t *testing.T) {
	cfg, _ := LoadString("[move]\naxes: XYZ\ntypo: 1\n[axis q]\nsteps_per_mm: 80\n")
	mv, _ := cfg.GetSection("move")
	mv.Get("axes")

	err := cfg.CheckUnusedSections()
	if err == nil || !strings.Contains(err.Error(), "[axis q]") {
		t.Errorf("CheckUnusedSections = %v", err)
	}

	err = cfg.CheckUnusedOptions()
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Section != "move" || ce.Option != "typo" {
		t.Fatalf("CheckUnusedOptions = %v", err)
	}

	mv.GetInt("typo", 0)
	if err := cfg.CheckUnusedOptions(); err != nil {
		t.Errorf("after reading typo: %v", err)
	}
}

func TestMissingSection(t *testing.T) {
	cfg, _ := LoadString("")
	_, err := cfg.GetSection("Move")
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Section != "move" || ce.Option != "" {
		t.Errorf("GetSection = %v", err)
	}
}

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("machine.cfg", "[move]\naxes: XYZ\n[include axes/*.cfg]\n")
	if err := os.Mkdir(filepath.Join(dir, "axes"), 0o755); err != nil {
		t.Fatal(err)
	}
	write("axes/x.cfg", "[axis x]\nsteps_per_mm: 100\n")
	write("axes/y.cfg", "[axis y]\nsteps_per_mm: 100\n")

	cfg, err := Load(filepath.Join(dir, "machine.cfg"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.SectionNames(); !reflect.DeepEqual(got, []string{"move", "axis x", "axis y"}) {
		t.Errorf("sections = %v", got)
	}
}

func TestLoadRecursiveInclude(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.cfg")
	if err := os.WriteFile(path, []byte("[include loop.cfg]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected recursive include error")
	}
}

func TestLoadMissingInclude(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.cfg")
	if err := os.WriteFile(path, []byte("[include nope.cfg]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected missing include error")
	}
}
