// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deepthink/orchestrator/history"
	"deepthink/orchestrator/llm"
	"deepthink/orchestrator/tasks"
	"deepthink/shared/config"
	"deepthink/shared/logger"
)

// Run loads the configuration, wires the engine and serves HTTP until
// SIGINT or SIGTERM. SIGHUP reloads the configuration file.
func Run() {
	log.Println("Starting DeepThink orchestrator...")

	configPath := os.Getenv("DEEPTHINK_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog := logger.New("deepthink")
	appLog.SetLevel(logger.ParseLevel(cfg.Log.Level))

	store := config.NewStore(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := newGateway(ctx, cfg, appLog)
	store.OnChange(invalidateOnLLMChange(gateway))

	engine := NewEngine(gateway, store, WithEngineLogger(logger.New("engine")))

	registry, closeStore := newRegistry(ctx, cfg, appLog)
	registry.Start()
	defer registry.Close()
	if closeStore != nil {
		defer closeStore()
	}

	var archive *history.Archive
	serverOpts := []ServerOption{WithCORSOrigins(cfg.Server.CORSOrigins)}
	if cfg.Archive.DatabaseURL != "" {
		archive, err = history.Open(ctx, cfg.Archive.DatabaseURL)
		if err != nil {
			appLog.ErrorWithErr("", "", "run archive disabled", err, nil)
		} else if err := archive.EnsureSchema(ctx); err != nil {
			appLog.ErrorWithErr("", "", "run archive disabled", err, nil)
			_ = archive.Close()
			archive = nil
		}
	}

	var archiver Archiver
	if archive != nil {
		defer archive.Close()
		archiver = archive
		serverOpts = append(serverOpts, WithRunLister(archive))
		appLog.Info("", "", "run archive enabled", nil)
	}

	runner := NewTaskRunner(engine, registry, archiver, logger.New("runner"))
	server := NewServer(engine, runner, registry, serverOpts...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		appLog.Info("", "", "listening", map[string]interface{}{"port": cfg.Server.Port})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	for sig := range signals {
		if sig == syscall.SIGHUP {
			if err := store.Reload(configPath); err != nil {
				appLog.ErrorWithErr("", "", "configuration reload failed", err, nil)
			} else {
				appLog.Info("", "", "configuration reloaded", nil)
			}
			continue
		}
		break
	}

	appLog.Info("", "", "shutting down", nil)
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.ErrorWithErr("", "", "HTTP shutdown failed", err, nil)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		appLog.ErrorWithErr("", "", "task runs did not stop in time", err, nil)
	}
}

// newGateway builds the provider gateway, with a Secrets Manager resolver
// when the key is stored in AWS.
func newGateway(ctx context.Context, cfg config.Config, appLog *logger.Logger) *llm.Gateway {
	opts := []llm.GatewayOption{}
	if cfg.LLM.APIKeySecretARN != "" {
		region := cfg.LLM.Region
		if region == "" {
			region = getEnv("AWS_REGION", "us-east-1")
		}
		resolver, err := llm.NewAWSSecretResolver(ctx, region, 5*time.Minute)
		if err != nil {
			appLog.ErrorWithErr("", "", "secret resolver unavailable", err, nil)
		} else {
			opts = append(opts, llm.WithSecretResolver(resolver))
		}
	}
	return llm.NewGateway(opts...)
}

// invalidateOnLLMChange drops cached providers when the LLM section changes.
func invalidateOnLLMChange(gateway *llm.Gateway) config.ChangeHook {
	return func(previous, current config.Config) {
		if previous.LLM != current.LLM {
			gateway.Invalidate()
		}
	}
}

// newRegistry builds the task registry, keeping update logs in Redis when
// configured. The returned func closes the Redis client.
func newRegistry(ctx context.Context, cfg config.Config, appLog *logger.Logger) (*tasks.Registry, func()) {
	opts := []tasks.Option{
		tasks.WithTTL(cfg.Tasks.TTL),
		tasks.WithSweepInterval(cfg.Tasks.SweepInterval),
		tasks.WithLogger(logger.New("tasks")),
		tasks.WithEvictHook(func(id, reason string) {
			promTasksEvicted.WithLabelValues(reason).Inc()
		}),
	}

	var closeStore func()
	if cfg.Tasks.RedisURL != "" {
		store, err := tasks.NewRedisStore(ctx, cfg.Tasks.RedisURL, cfg.Tasks.TTL)
		if err != nil {
			appLog.ErrorWithErr("", "", "Redis unavailable, keeping task updates in memory", err, nil)
		} else {
			opts = append(opts, tasks.WithStore(store))
			closeStore = func() { _ = store.Close() }
			appLog.Info("", "", "task updates stored in Redis", nil)
		}
	}
	return tasks.NewRegistry(opts...), closeStore
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
