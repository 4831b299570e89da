package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"ownrealm/pkg/store"
)

func defaultConfig() ServerConfig {
	return ServerConfig{
		Addr:           DefaultAddr,
		DBPath:         DefaultDBPath,
		DBDriver:       store.DriverPure,
		CommandControl: true,
		TickInterval:   time.Second,
		SnapshotEvery:  3600,
		MapLimit:       1000,
	}
}

// loadConfig applies defaults, then the yaml file at path (if any), then
// OWNREALM_* environment variables.
func loadConfig(path string) (ServerConfig, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("OWNREALM_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("OWNREALM_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("OWNREALM_DB_DRIVER"); v != "" {
		cfg.DBDriver = v
	}
	// Default to true unless explicitly disabled
	if v := os.Getenv("OWNREALM_COMMAND_CONTROL"); v != "" {
		cfg.CommandControl = !strings.EqualFold(v, "false")
	}
	if v := os.Getenv("OWNREALM_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("OWNREALM_TICK_INTERVAL: %w", err)
		}
		cfg.TickInterval = d
	}
	if v := os.Getenv("OWNREALM_SNAPSHOT_EVERY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("OWNREALM_SNAPSHOT_EVERY: %w", err)
		}
		cfg.SnapshotEvery = n
	}
	if v := os.Getenv("OWNREALM_TRADE_SPEED"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("OWNREALM_TRADE_SPEED: %w", err)
		}
		cfg.TradeSpeed = n
	}

	if cfg.TickInterval < MinTickDuration {
		cfg.TickInterval = MinTickDuration
	}
	if cfg.SnapshotEvery < 0 {
		return cfg, fmt.Errorf("snapshot_every must not be negative")
	}
	return cfg, nil
}

func main() {
	setupLogging()

	cfg, err := loadConfig(os.Getenv("OWNREALM_CONFIG"))
	if err != nil {
		ErrorLog.Fatal(err)
	}
	Config = cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, Config)
	if err != nil {
		ErrorLog.Fatal(err)
	}
	defer st.Close()

	InfoLog.Println("OWNREALM BOOT SEQUENCE")
	InfoLog.Printf("World: %s | Driver: %s | Control: %v", st.WorldID(), st.Driver(), Config.CommandControl)

	a := newApp(st, Config, time.Now)
	a.refreshMap(ctx)

	server := &http.Server{
		Addr:         Config.Addr,
		Handler:      a.handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		InfoLog.Printf("World %s listening on %s", st.WorldID(), Config.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.runGameLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		ErrorLog.Printf("shutdown: %v", err)
		os.Exit(1)
	}
	InfoLog.Println("Shutdown complete")
}
