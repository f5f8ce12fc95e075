// Command warden runs the autonomous road steward.
// It observes congestion, decides on tile policy edits by rule,
// and acts via the admin tile policy API.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talgya/mini-roads/internal/config"
	"github.com/talgya/mini-roads/internal/warden"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadWarden()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("road warden starting",
		"api_url", cfg.APIURL,
		"interval", cfg.Interval,
		"min_waits", cfg.MinWaits,
	)

	observer := warden.NewObserver(cfg.APIURL)
	actor := warden.NewActor(cfg.APIURL, cfg.AdminKey)
	mem := warden.LoadMemory(cfg.MemoryPath)
	rules := warden.DefaultRules()
	rules.MinWaits = cfg.MinWaits
	rules.Cooldown = cfg.Cooldown

	// Process start order does not mean the API is serving yet.
	slog.Info("waiting for roadsim API...")
	waitForAPI(cfg.APIURL)

	runCycle := func() {
		if _, err := warden.RunCycle(observer, actor, mem, rules); err != nil {
			slog.Error("warden cycle failed", "error", err)
		}
	}

	// Run first cycle immediately.
	runCycle()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runCycle()
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			fmt.Println("Warden stopped.")
			return
		}
	}
}

// waitForAPI polls the roadsim status endpoint with exponential backoff
// until it responds. Exits after 5 minutes if the API never becomes ready.
func waitForAPI(apiURL string) {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("roadsim API is ready")
				return
			}
		}
		if time.Now().After(deadline) {
			slog.Error("roadsim API did not become ready within 5 minutes")
			os.Exit(1)
		}
		slog.Info("roadsim not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}
