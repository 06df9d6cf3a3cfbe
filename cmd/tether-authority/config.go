package main

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/akmonengine/tether"
	"github.com/akmonengine/tether/actor"
)

// fileConfig is the layout of the authority YAML file. Fields left out keep
// the values of the selected preset.
type fileConfig struct {
	Preset string        `yaml:"preset"`
	Listen string        `yaml:"listen"`
	World  tether.Config `yaml:"world"`
	Scene  []bodySpec    `yaml:"scene"`
}

type bodySpec struct {
	Shape       string         `yaml:"shape"`
	Position    mgl64.Vec3     `yaml:"position"`
	HalfExtents mgl64.Vec3     `yaml:"half_extents"`
	Radius      float64        `yaml:"radius"`
	Normal      mgl64.Vec3     `yaml:"normal"`
	Distance    float64        `yaml:"distance"`
	Mass        float64        `yaml:"mass"`
	Trigger     bool           `yaml:"trigger"`
	Material    actor.Material `yaml:"material"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Preset: "realistic",
		Listen: ":8090",
		World:  tether.DefaultConfig(),
		Scene:  defaultScene(),
	}
}

// loadConfig reads path, or returns the defaults when path is empty. The
// preset named in the file is applied before the world section.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config: %w", err)
	}

	var header struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if header.Preset != "" {
		cfg.World, err = tether.Preset(header.Preset)
		if err != nil {
			return fileConfig{}, err
		}
	}

	cfg.Scene = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Scene) == 0 {
		cfg.Scene = defaultScene()
	}
	return cfg, cfg.World.Validate()
}

func defaultScene() []bodySpec {
	material := actor.Material{
		Restitution:     0.2,
		StaticFriction:  0.6,
		DynamicFriction: 0.4,
		LinearDamping:   0.01,
		AngularDamping:  0.05,
	}

	scene := []bodySpec{{Shape: "plane", Normal: mgl64.Vec3{0, 1, 0}}}
	for i := 0; i < 5; i++ {
		scene = append(scene, bodySpec{
			Shape:       "box",
			Position:    mgl64.Vec3{0, 0.5 + float64(i)*1.02, 0},
			HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5},
			Mass:        1,
			Material:    material,
		})
	}
	for i := 0; i < 8; i++ {
		scene = append(scene, bodySpec{
			Shape:    "sphere",
			Position: mgl64.Vec3{3 + float64(i%4)*1.1, 2 + float64(i), float64(i/4) * 1.1},
			Radius:   0.4,
			Mass:     1 + float64(i%3),
			Material: material,
		})
	}
	return scene
}

func (s bodySpec) build() (*actor.RigidBody, error) {
	var shape actor.Shape
	switch s.Shape {
	case "box":
		shape = &actor.Box{HalfExtents: s.HalfExtents}
	case "sphere":
		shape = &actor.Sphere{Radius: s.Radius}
	case "plane":
		if s.Normal.Len() == 0 {
			return nil, fmt.Errorf("plane needs a normal")
		}
		shape = &actor.Plane{Normal: s.Normal.Normalize(), Distance: s.Distance}
	default:
		return nil, fmt.Errorf("unknown shape %q", s.Shape)
	}

	body := actor.NewRigidBody(actor.NewTransformAt(s.Position), shape, s.Mass)
	body.Material = s.Material
	body.IsTrigger = s.Trigger
	return body, nil
}

// populate adds the scene bodies to w in file order
func populate(w *tether.World, scene []bodySpec) error {
	for i, entry := range scene {
		body, err := entry.build()
		if err != nil {
			return fmt.Errorf("scene body %d: %w", i, err)
		}
		w.AddBody(body)
	}
	return nil
}
