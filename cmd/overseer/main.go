// Command overseer runs the autonomous world steward for Everworld.
// It observes world state through the public API, decides on at most
// one intervention per cycle, and acts through the admin endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ellory/everworld/internal/overseer"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	apiURL := envOrDefault("EVERWORLD_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("EVERWORLD_ADMIN_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	intervalMin := envIntOrDefault("OVERSEER_INTERVAL", 30)

	if adminKey == "" {
		slog.Error("EVERWORLD_ADMIN_KEY is required")
		os.Exit(1)
	}
	if anthropicKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}

	interval := time.Duration(intervalMin) * time.Minute

	slog.Info("Everworld Overseer starting", "api_url", apiURL, "interval", interval)

	observer := overseer.NewObserver(apiURL)
	actor := overseer.NewActor(apiURL, adminKey)
	client := overseer.NewClient(anthropicKey, os.Getenv("OVERSEER_MODEL"))
	mem := overseer.LoadMemory()

	// Wait for the worldsim API before the first cycle; process start
	// order says nothing about HTTP readiness.
	slog.Info("waiting for worldsim API...")
	waitForAPI(apiURL)

	runCycle(observer, actor, client, mem)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runCycle(observer, actor, client, mem)
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			fmt.Println("Overseer stopped.")
			return
		}
	}
}

// runCycle executes one observe, decide, act cycle.
func runCycle(observer *overseer.Observer, actor *overseer.Actor, client *overseer.Client, mem *overseer.CycleMemory) {
	slog.Info("overseer cycle starting")

	snap, err := observer.Observe()
	if err != nil {
		slog.Error("observation failed", "error", err)
		return
	}
	health := overseer.Triage(snap)
	slog.Info("observation complete",
		"tick", snap.Status.Tick,
		"active", snap.Status.ActiveAgents,
		"suspended", snap.Status.SuspendedAgents,
		"crisis", health.CrisisLevel,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	decision, err := overseer.Decide(ctx, client, snap, health, mem)
	if err != nil {
		slog.Error("decision failed", "error", err)
		return
	}
	slog.Info("decision made", "action", decision.Action, "rationale", decision.Rationale)

	if decision.Action != "none" {
		if err := actor.Act(decision); err != nil {
			slog.Error("intervention failed", "error", err)
			return
		}
		slog.Info("intervention executed", "action", decision.Action, "agent", decision.Agent, "goal", decision.Goal)
	} else {
		slog.Info("overseer cycle complete, no intervention")
	}

	mem.Record(overseer.CycleRecord{
		Tick:        snap.Status.Tick,
		Action:      decision.Action,
		Agent:       decision.Agent,
		Goal:        decision.Goal,
		CrisisLevel: health.CrisisLevel,
		Rationale:   decision.Rationale,
	})
	mem.Save()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with backoff until it responds,
// giving up after 5 minutes.
func waitForAPI(apiURL string) {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("worldsim API is ready")
				return
			}
		}
		if time.Now().After(deadline) {
			slog.Error("worldsim API did not become ready within 5 minutes")
			os.Exit(1)
		}
		slog.Info("worldsim not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
