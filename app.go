package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/meshalign/dentalreg/registration"
	"github.com/meshalign/dentalreg/registration/telemetry"
)

// telemetryEvent wraps kind/fields into a timestamped telemetry.Event.
func telemetryEvent(kind string, fields map[string]any) telemetry.Event {
	return telemetry.Event{Kind: kind, Timestamp: time.Now(), Fields: fields}
}

// App encapsulates the registration service's dependencies: the loaded
// server configuration, the engine config derived from it, and the
// telemetry sink every endpoint writes through.
type App struct {
	Config       *registration.ServerConfig
	EngineConfig registration.Config
	Telemetry    telemetry.Recorder
	MeshWriter   registration.MeshWriter

	// CLI flags (effectively dependencies)
	ConfigFile string
	HTTPPort   int
}

// NewApp creates an App with a no-op telemetry recorder and the default
// NopMeshWriter; ApplyOptions and LoadConfig populate the rest.
func NewApp() *App {
	return &App{
		Telemetry:  telemetry.NopRecorder{},
		MeshWriter: registration.NopMeshWriter{},
	}
}

// ApplyOptions applies CLI options to the App instance.
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.HTTPPort = opts.HTTPPort
}

// LoadConfig loads the YAML server configuration and, if a telemetry
// path is configured, swaps in a file-backed recorder.
func (a *App) LoadConfig() error {
	cfg, err := registration.LoadServerConfig(a.ConfigFile)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.EngineConfig = cfg.EngineConfig()

	if cfg.TelemetryPath != "" {
		rec, err := telemetry.NewFileRecorder(cfg.TelemetryPath)
		if err != nil {
			log.Printf("Warning: failed to open telemetry log %s: %v", cfg.TelemetryPath, err)
		} else {
			a.Telemetry = rec
			log.Printf("Recording telemetry to %s", cfg.TelemetryPath)
		}
	}
	return nil
}

// RunService starts the HTTP server.
func (a *App) RunService() {
	handler := newHTTPServer(a)
	addr := fmt.Sprintf(":%d", a.HTTPPort)
	log.Printf("Registration service listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
