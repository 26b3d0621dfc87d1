// Command host shares this machine's screen, input and files with viewers
// through a relay room. It dials out to the relay and reconnects on its
// own, so the machine needs no open ports.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/avaropoint/deskrelay/internal/host"
	"github.com/avaropoint/deskrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "host_config.json", "Host configuration file")
	room := flag.String("room", "", "Room to join (overrides the config file)")
	password := flag.String("password", "", "Room password (overrides the config file)")
	flag.Parse()

	log.Printf("Host v%s (built %s)", version.Version, version.BuildTime)
	log.Printf("OS: %s, Arch: %s", runtime.GOOS, runtime.GOARCH)

	cfg, err := host.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(*configPath); err != nil {
			log.Printf("WARNING: could not write default config: %v", err)
		} else {
			log.Printf("Wrote default config to %s", *configPath)
		}
	}
	if *room != "" {
		cfg.Room = *room
	}
	if *password != "" {
		cfg.Password = *password
	}

	files, screens := cfg.LinkCounts()
	log.Printf("Room: %s", cfg.Room)
	log.Printf("Control:   %s", cfg.ControlURL())
	log.Printf("Streaming: %s (%d file, %d screen links)", cfg.StreamingURL(), files, screens)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := host.NewManager(host.NewSettings(cfg, *configPath))
	if err := m.Run(ctx); err != nil {
		log.Fatalf("Host stopped: %v", err)
	}
	log.Printf("Shutting down")
}
