package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cynic-kernel/kernel/internal/collab"
	"github.com/cynic-kernel/kernel/internal/config"
	"github.com/cynic-kernel/kernel/internal/guardrail"
	"github.com/cynic-kernel/kernel/internal/kernelapp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, continuing with process environment")
	}

	cfgPath := getEnvOrDefault("KERNEL_CONFIG_PATH", "kernel.yaml")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("kerneld: failed to load config: %v", err)
	}

	opts := []kernelapp.Option{}

	if cfg.Storage.SupabaseURL != "" && cfg.Storage.SupabaseServiceKey != "" {
		store, err := collab.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseServiceKey)
		if err != nil {
			slog.Warn("kerneld: supabase storage unavailable, falling back to in-memory", "error", err)
		} else {
			opts = append(opts, kernelapp.WithStorage(store))
			slog.Info("kerneld: wired SupabaseStorage")
		}
	}

	if cfg.LLM.Enabled && cfg.LLM.GRPCAddr != "" {
		adapter, err := collab.NewGRPCLLMAdapter(cfg.LLM.GRPCAddr, "primary")
		if err != nil {
			slog.Warn("kerneld: LLM gRPC adapter unavailable, LLM judges will fail open", "error", err)
		} else {
			registry := collab.NewGRPCLLMRegistry(map[string]collab.Adapter{"primary": adapter})
			opts = append(opts, kernelapp.WithLLMRegistry(registry))
			slog.Info("kerneld: wired GRPCLLMRegistry", "addr", cfg.LLM.GRPCAddr)
		}
	}

	var fallbackRunner collab.Runner = collab.NoopRunner{}
	dockerImage := getEnvOrDefault("KERNEL_RUNNER_IMAGE", "")
	if dockerImage != "" {
		fallbackRunner = collab.NewDockerRunner(dockerImage)
		slog.Info("kerneld: wired DockerRunner as action execution fallback", "image", dockerImage)
	}

	if cfg.CloudTask.Enabled && cfg.CloudTask.ProjectID != "" {
		targetURL := getEnvOrDefault("KERNEL_DISPATCH_TARGET_URL", "")
		dispatcher, err := collab.NewCloudTasksDispatcher(cfg.CloudTask.ProjectID, cfg.CloudTask.LocationID, cfg.CloudTask.QueueID, targetURL, fallbackRunner)
		if err != nil {
			slog.Warn("kerneld: Cloud Tasks dispatcher unavailable, using direct runner", "error", err)
			opts = append(opts, kernelapp.WithRunner(fallbackRunner))
		} else {
			defer dispatcher.Close()
			opts = append(opts, kernelapp.WithRunner(dispatcher))
			slog.Info("kerneld: wired CloudTasksDispatcher queue", "queue", cfg.CloudTask.QueueID)
		}
	} else {
		opts = append(opts, kernelapp.WithRunner(fallbackRunner))
	}

	if cfg.SPIFFE.Enabled {
		identity, err := collab.NewSPIFFEIdentity(cfg.SPIFFE.SocketPath)
		if err != nil {
			slog.Warn("kerneld: SPIFFE identity unavailable, dispatch runs without SVID verification", "error", err)
		} else {
			defer identity.Close()
			opts = append(opts, kernelapp.WithCallerVerifier(identity))
			slog.Info("kerneld: wired SPIFFE caller verification", "trust_domain", cfg.SPIFFE.TrustDomain)
		}
	}

	opts = append(opts, kernelapp.WithApprover(guardrail.AlwaysApprove{}))

	k := kernelapp.New(cfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := k.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("kerneld: running", "introspect_port", cfg.Introspect.Port, "env", cfg.Server.Env)

	select {
	case sig := <-sigChan:
		slog.Info("kerneld: received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("kerneld: introspect server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := k.Shutdown(shutdownCtx); err != nil {
		slog.Error("kerneld: shutdown error", "error", err)
	}
	// Only cancel the run context once Shutdown has drained the
	// scheduler's queues; cancelling it earlier would tear down the
	// same context the scheduler's workers run on, short-circuiting
	// the grace period Shutdown just honored.
	cancel()
	slog.Info("kerneld: stopped")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
