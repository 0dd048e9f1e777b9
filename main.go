package main

import (
	"flag"
	"fmt"
	"log"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// AppOptions collects the CLI flags RunService depends on.
type AppOptions struct {
	ConfigFile string
	HTTPPort   int
}

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	httpPort   = flag.Int("http-port", 8080, "HTTP server port")
)

func main() {
	flag.Parse()
	fmt.Printf("dentalreg version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile: *configFile,
		HTTPPort:   *httpPort,
	})

	if err := app.LoadConfig(); err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, *configFile)
	}
	log.Printf("Loaded config from %s (profile=%s device=%s)", *configFile, app.Config.Profile, app.Config.Device)

	app.RunService()
}
