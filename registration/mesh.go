package registration

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotImplemented is returned by NopMeshWriter, the default no-op
// MeshWriter used by tests and by deployments that have not yet wired a
// real PLY/STL persistence layer.
var ErrNotImplemented = errors.New("registration: mesh persistence not implemented")

// MeshLoader reads a 3D scan from a path into the in-memory geometry
// types the engine operates on. File format parsing (STL/PLY/OBJ) is
// out of scope (spec §1); callers provide a concrete implementation.
type MeshLoader interface {
	LoadMesh(path string) (*Mesh, error)
	LoadPointCloud(path string) (*PointCloud, error)
}

// MeshWriter persists a computed transform or diagnostic artifact.
// Out of scope in the same sense as MeshLoader.
type MeshWriter interface {
	WriteTransform(path string, t RigidTransform) error
}

// NopMeshWriter is the default MeshWriter: it always returns
// ErrNotImplemented, since file-format persistence is out of scope
// (spec §1). Real deployments supply their own PLY/STL writer.
type NopMeshWriter struct{}

func (NopMeshWriter) WriteTransform(path string, t RigidTransform) error {
	return ErrNotImplemented
}

// ServerConfig is the YAML-loaded configuration for the registration
// HTTP service: default profile/device, ROI and wall-clock knobs, and
// the optional telemetry log path.
type ServerConfig struct {
	Profile            string  `yaml:"profile"`
	Device             string  `yaml:"device"`
	ROIDistanceMM       float64 `yaml:"roi_distance_mm"`
	RefineROIDistanceMM float64 `yaml:"refine_roi_distance_mm"`
	MaxWallClockSeconds float64 `yaml:"max_wall_clock_seconds"`
	TelemetryPath       string  `yaml:"telemetry_path"`
}

// LoadServerConfig loads the service's YAML configuration and fills in
// the engine defaults for anything unset; no field is required (the
// file-reading shape mirrors the teacher's config loader).
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if cfg.Profile == "" {
		cfg.Profile = string(ProfileDefault)
	}
	if cfg.Device == "" {
		cfg.Device = string(DeviceStandard)
	}
	defaults := DefaultConfig()
	if cfg.ROIDistanceMM <= 0 {
		cfg.ROIDistanceMM = defaults.ROIDistanceThreshold
	}
	if cfg.RefineROIDistanceMM <= 0 {
		cfg.RefineROIDistanceMM = defaults.RefineROIDistanceThreshold
	}
	if cfg.MaxWallClockSeconds <= 0 {
		cfg.MaxWallClockSeconds = defaults.MaxWallClock
	}

	return &cfg, nil
}

// SaveServerConfig writes cfg to path as YAML.
func SaveServerConfig(path string, cfg *ServerConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// EngineConfig builds the algorithm-level Config (seeds, ROI
// thresholds, wall-clock budget) from the loaded server configuration.
func (c *ServerConfig) EngineConfig() Config {
	cfg := DefaultConfig()
	cfg.ROIDistanceThreshold = c.ROIDistanceMM
	cfg.RefineROIDistanceThreshold = c.RefineROIDistanceMM
	cfg.MaxWallClock = c.MaxWallClockSeconds
	return cfg
}
