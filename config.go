package tether

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrTimestepMismatch = errors.New("step duration differs from the fixed timestep")
)

// SolverKind selects the velocity solver strategy
type SolverKind uint8

const (
	// SolverGaussSeidel applies each corrective impulse as computed
	SolverGaussSeidel SolverKind = iota
	// SolverSOR scales each impulse by Config.Relaxation (successive over-relaxation)
	SolverSOR
)

func (k SolverKind) String() string {
	switch k {
	case SolverGaussSeidel:
		return "gauss-seidel"
	case SolverSOR:
		return "sor"
	}
	return fmt.Sprintf("SolverKind(%d)", uint8(k))
}

func (k SolverKind) MarshalText() ([]byte, error) {
	switch k {
	case SolverGaussSeidel, SolverSOR:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("%w: unknown solver %d", ErrInvalidConfig, uint8(k))
}

func (k *SolverKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "gauss-seidel", "gaussseidel", "gs":
		*k = SolverGaussSeidel
	case "sor":
		*k = SolverSOR
	default:
		return fmt.Errorf("%w: unknown solver %q", ErrInvalidConfig, text)
	}
	return nil
}

type SleepConfig struct {
	// LinearThreshold is the speed, in m/s, under which a frame counts as low motion
	LinearThreshold float64 `yaml:"linear_threshold" json:"linear_threshold"`
	// AngularThreshold is the angular speed, in rad/s, under which a frame counts as low motion
	AngularThreshold float64 `yaml:"angular_threshold" json:"angular_threshold"`
	// FramesToSleep is the number of consecutive low motion frames before sleeping
	FramesToSleep int `yaml:"frames_to_sleep" json:"frames_to_sleep"`
}

type GridConfig struct {
	CellSize float64 `yaml:"cell_size" json:"cell_size"`
	// NumCells is rounded up to a power of two
	NumCells int `yaml:"num_cells" json:"num_cells"`
}

// Config is validated once by NewWorld and never changes afterwards.
type Config struct {
	Gravity       mgl64.Vec3    `yaml:"gravity" json:"gravity"`
	FixedTimestep time.Duration `yaml:"fixed_timestep" json:"fixed_timestep"`

	Solver SolverKind `yaml:"solver" json:"solver"`
	// Relaxation is the SOR weight in (0, 2), ignored by Gauss-Seidel
	Relaxation         float64 `yaml:"relaxation" json:"relaxation"`
	VelocityIterations int     `yaml:"velocity_iterations" json:"velocity_iterations"`
	PositionIterations int     `yaml:"position_iterations" json:"position_iterations"`
	// Workers bounds the number of islands solved at once
	Workers int `yaml:"workers" json:"workers"`

	// ContactMargin is the distance under which separated shapes already
	// produce a speculative contact
	ContactMargin float64 `yaml:"contact_margin" json:"contact_margin"`

	Sleep            SleepConfig `yaml:"sleep" json:"sleep"`
	RollbackCapacity int         `yaml:"rollback_capacity" json:"rollback_capacity"`
	Grid             GridConfig  `yaml:"grid" json:"grid"`
}

func DefaultConfig() Config {
	return Config{
		Gravity:            mgl64.Vec3{0, -9.81, 0},
		FixedTimestep:      time.Second / 60,
		Solver:             SolverGaussSeidel,
		Relaxation:         1.0,
		VelocityIterations: 8,
		PositionIterations: 2,
		Workers:            1,
		ContactMargin:      0.01,
		Sleep: SleepConfig{
			LinearThreshold:  0.05,
			AngularThreshold: 0.05,
			FramesToSleep:    120,
		},
		RollbackCapacity: 300,
		Grid: GridConfig{
			CellSize: 2.0,
			NumCells: 4096,
		},
	}
}

// Preset returns the default config tuned for a physics template:
// arcade, realistic, simulation or experimental.
func Preset(name string) (Config, error) {
	cfg := DefaultConfig()
	switch name {
	case "arcade":
		cfg.VelocityIterations = 4
		cfg.PositionIterations = 1
	case "realistic", "":
	case "simulation":
		cfg.VelocityIterations = 16
		cfg.PositionIterations = 4
		cfg.Sleep.FramesToSleep = 240
	case "experimental":
		cfg.Solver = SolverSOR
		cfg.Relaxation = 1.3
		cfg.VelocityIterations = 12
		cfg.PositionIterations = 3
	default:
		return Config{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, name)
	}
	return cfg, nil
}

// Validate reports the first invalid field
func (c Config) Validate() error {
	for i := 0; i < 3; i++ {
		if math.IsNaN(c.Gravity[i]) || math.IsInf(c.Gravity[i], 0) {
			return fmt.Errorf("%w: gravity %v is not finite", ErrInvalidConfig, c.Gravity)
		}
	}

	switch {
	case c.FixedTimestep <= 0:
		return fmt.Errorf("%w: fixed timestep must be positive, got %s", ErrInvalidConfig, c.FixedTimestep)
	case c.Solver != SolverGaussSeidel && c.Solver != SolverSOR:
		return fmt.Errorf("%w: unknown solver %d", ErrInvalidConfig, uint8(c.Solver))
	case c.Solver == SolverSOR && (c.Relaxation <= 0 || c.Relaxation >= 2):
		return fmt.Errorf("%w: relaxation must be in (0, 2), got %v", ErrInvalidConfig, c.Relaxation)
	case c.VelocityIterations < 1:
		return fmt.Errorf("%w: velocity iterations must be at least 1, got %d", ErrInvalidConfig, c.VelocityIterations)
	case c.PositionIterations < 0:
		return fmt.Errorf("%w: position iterations must not be negative, got %d", ErrInvalidConfig, c.PositionIterations)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.ContactMargin < 0:
		return fmt.Errorf("%w: contact margin must not be negative, got %v", ErrInvalidConfig, c.ContactMargin)
	case c.Sleep.LinearThreshold < 0 || c.Sleep.AngularThreshold < 0:
		return fmt.Errorf("%w: sleep thresholds must not be negative", ErrInvalidConfig)
	case c.Sleep.FramesToSleep < 1:
		return fmt.Errorf("%w: frames to sleep must be at least 1, got %d", ErrInvalidConfig, c.Sleep.FramesToSleep)
	case c.RollbackCapacity < 1:
		return fmt.Errorf("%w: rollback capacity must be at least 1, got %d", ErrInvalidConfig, c.RollbackCapacity)
	case c.Grid.CellSize <= 0:
		return fmt.Errorf("%w: grid cell size must be positive, got %v", ErrInvalidConfig, c.Grid.CellSize)
	case c.Grid.NumCells < 1:
		return fmt.Errorf("%w: grid needs at least one cell, got %d", ErrInvalidConfig, c.Grid.NumCells)
	}
	return nil
}

// relaxation returns the impulse scale for the configured solver
func (c Config) relaxation() float64 {
	if c.Solver == SolverSOR {
		return c.Relaxation
	}
	return 1.0
}

// dt is the fixed timestep in seconds
func (c Config) dt() float64 {
	return c.FixedTimestep.Seconds()
}
