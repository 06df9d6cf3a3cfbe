package tether

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		valid  bool
	}{
		{"default", func(cfg *Config) {}, true},
		{"zero gravity", func(cfg *Config) { cfg.Gravity[1] = 0 }, true},
		{"nan gravity", func(cfg *Config) { cfg.Gravity[0] = math.NaN() }, false},
		{"infinite gravity", func(cfg *Config) { cfg.Gravity[2] = math.Inf(-1) }, false},
		{"zero timestep", func(cfg *Config) { cfg.FixedTimestep = 0 }, false},
		{"unknown solver", func(cfg *Config) { cfg.Solver = SolverKind(9) }, false},
		{"sor relaxation too high", func(cfg *Config) { cfg.Solver, cfg.Relaxation = SolverSOR, 2 }, false},
		{"sor relaxation", func(cfg *Config) { cfg.Solver, cfg.Relaxation = SolverSOR, 1.4 }, true},
		{"gauss-seidel ignores relaxation", func(cfg *Config) { cfg.Relaxation = 5 }, true},
		{"no velocity iteration", func(cfg *Config) { cfg.VelocityIterations = 0 }, false},
		{"no position iteration", func(cfg *Config) { cfg.PositionIterations = 0 }, true},
		{"no worker", func(cfg *Config) { cfg.Workers = 0 }, false},
		{"negative margin", func(cfg *Config) { cfg.ContactMargin = -0.1 }, false},
		{"negative sleep threshold", func(cfg *Config) { cfg.Sleep.AngularThreshold = -1 }, false},
		{"never sleeping", func(cfg *Config) { cfg.Sleep.FramesToSleep = 0 }, false},
		{"empty history", func(cfg *Config) { cfg.RollbackCapacity = 0 }, false},
		{"zero cell size", func(cfg *Config) { cfg.Grid.CellSize = 0 }, false},
		{"no cell", func(cfg *Config) { cfg.Grid.NumCells = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPreset(t *testing.T) {
	tests := []struct {
		name       string
		solver     SolverKind
		relaxation float64
		velocity   int
	}{
		{"arcade", SolverGaussSeidel, 1, 4},
		{"realistic", SolverGaussSeidel, 1, 8},
		{"simulation", SolverGaussSeidel, 1, 16},
		{"experimental", SolverSOR, 1.3, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Preset(tt.name)
			if err != nil {
				t.Fatalf("Preset(%q): %v", tt.name, err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("preset %q is invalid: %v", tt.name, err)
			}
			if cfg.Solver != tt.solver || cfg.relaxation() != tt.relaxation || cfg.VelocityIterations != tt.velocity {
				t.Errorf("preset %q = solver %s, relaxation %v, %d iterations", tt.name, cfg.Solver, cfg.relaxation(), cfg.VelocityIterations)
			}
		})
	}

	if _, err := Preset("ludicrous"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown preset error = %v", err)
	}
}

func TestSolverKind_Text(t *testing.T) {
	tests := []struct {
		text string
		want SolverKind
		ok   bool
	}{
		{"gauss-seidel", SolverGaussSeidel, true},
		{"GS", SolverGaussSeidel, true},
		{" sor ", SolverSOR, true},
		{"jacobi", 0, false},
	}

	for _, tt := range tests {
		var kind SolverKind
		err := kind.UnmarshalText([]byte(tt.text))
		if tt.ok && (err != nil || kind != tt.want) {
			t.Errorf("UnmarshalText(%q) = %s, %v; want %s", tt.text, kind, err, tt.want)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("UnmarshalText(%q) error = %v, want ErrInvalidConfig", tt.text, err)
		}
	}

	if _, err := SolverKind(7).MarshalText(); err == nil {
		t.Error("MarshalText of an unknown solver succeeded")
	}
}

func TestConfig_JSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Solver = SolverSOR
	cfg.Relaxation = 1.2

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"solver":"sor"`) {
		t.Errorf("solver not written as text: %s", data)
	}

	var decoded Config
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != cfg {
		t.Errorf("decoded config %+v, want %+v", decoded, cfg)
	}
}

func TestConfig_Dt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FixedTimestep = 20 * time.Millisecond
	if cfg.dt() != 0.02 {
		t.Errorf("dt() = %v, want 0.02", cfg.dt())
	}
}
