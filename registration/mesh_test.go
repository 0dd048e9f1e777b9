package registration

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("profile: face_face\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Profile != "face_face" {
		t.Errorf("Profile = %q, want face_face", cfg.Profile)
	}
	if cfg.Device != string(DeviceStandard) {
		t.Errorf("Device = %q, want default %q", cfg.Device, DeviceStandard)
	}
	if cfg.ROIDistanceMM != DefaultConfig().ROIDistanceThreshold {
		t.Errorf("ROIDistanceMM = %v, want default %v", cfg.ROIDistanceMM, DefaultConfig().ROIDistanceThreshold)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestSaveServerConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &ServerConfig{
		Profile:             "intraoral_face_strict",
		Device:              "lab_scanner",
		ROIDistanceMM:       45,
		RefineROIDistanceMM: 40,
		MaxWallClockSeconds: 20,
		TelemetryPath:       "telemetry.jsonl",
	}
	if err := SaveServerConfig(path, cfg); err != nil {
		t.Fatalf("SaveServerConfig: %v", err)
	}
	loaded, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round-tripped config = %+v, want %+v", *loaded, *cfg)
	}
}

func TestServerConfigEngineConfig(t *testing.T) {
	cfg := &ServerConfig{
		Profile:             "default",
		Device:              "standard",
		ROIDistanceMM:       50,
		RefineROIDistanceMM: 45,
		MaxWallClockSeconds: 15,
	}
	engine := cfg.EngineConfig()
	if engine.ROIDistanceThreshold != 50 {
		t.Errorf("ROIDistanceThreshold = %v, want 50", engine.ROIDistanceThreshold)
	}
	if engine.RefineROIDistanceThreshold != 45 {
		t.Errorf("RefineROIDistanceThreshold = %v, want 45", engine.RefineROIDistanceThreshold)
	}
	if engine.MaxWallClock != 15 {
		t.Errorf("MaxWallClock = %v, want 15", engine.MaxWallClock)
	}
}

func TestNopMeshWriterReturnsErrNotImplemented(t *testing.T) {
	var w MeshWriter = NopMeshWriter{}
	if err := w.WriteTransform("/tmp/whatever.transform", Identity()); err != ErrNotImplemented {
		t.Errorf("err = %v, want ErrNotImplemented", err)
	}
}
