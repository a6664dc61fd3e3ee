// pattern: Imperative Shell
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"coderoom/internal/broker"
	"coderoom/internal/config"
	"coderoom/internal/instance"
	"coderoom/internal/logging"
	"coderoom/internal/store"
	"coderoom/internal/term"
	"coderoom/internal/web"
)

var version = "dev"

func main() {
	configPath := flag.StringP("config", "c", "", "config file (default: ~/.config/coderoom/config.yaml)")
	dataDir := flag.StringP("data-dir", "d", "", "data directory (default: ~/.local/share/coderoom)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("coderoom", version)
		return
	}

	if err := run(*configPath, *dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dataDir string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir, err = resolveDataDir(dataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Single running broker per data directory.
	fl, err := instance.Lock(dataDir)
	if err != nil {
		return err
	}
	defer instance.Cleanup(dataDir, fl)

	logManager, err := logging.NewManager(logging.Config{
		FilePath:   resolvePath(dataDir, cfg.Log.File),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Level:      cfg.Log.Level,
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() { _ = logManager.Close() }()

	appLogger := logManager.For("app")
	appLogger.Info("broker starting", "version", version)

	// A missing shell is not fatal: each connection is told its
	// terminal failed to start and the session continues without one.
	if err := cfg.ValidateShell(); err != nil {
		appLogger.Warn("shell validation failed, terminals will not start", "error", err)
	}

	st, err := store.Open(resolvePath(dataDir, cfg.Store.Path))
	if err != nil {
		return fmt.Errorf("open room store: %w", err)
	}
	defer func() { _ = st.Close() }()

	roomsFile := resolvePath(dataDir, cfg.Store.RoomsFile)
	rooms, err := store.LoadSeed(roomsFile)
	if err != nil {
		return fmt.Errorf("load rooms seed: %w", err)
	}
	if len(rooms) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := store.ApplySeed(ctx, st, rooms)
		cancel()
		if err != nil {
			return fmt.Errorf("apply rooms seed: %w", err)
		}
		appLogger.Info("rooms seeded", "file", roomsFile, "count", len(rooms))
	}

	watcher, err := store.WatchSeed(st, roomsFile, logManager)
	if err != nil {
		appLogger.Warn("seed watcher unavailable", "error", err)
	} else {
		defer func() { _ = watcher.Close() }()
	}

	router := broker.NewRouter(st, logManager)
	terminals := term.NewMux(logManager)

	webServer := web.New(web.Config{
		Bind: cfg.Web.Bind,
		Port: cfg.Web.Port,
		Shell: term.Config{
			Command: cfg.Shell.Command,
			Args:    cfg.Shell.Args,
			Rows:    cfg.Shell.Rows,
			Cols:    cfg.Shell.Cols,
		},
		Origins: cfg.Web.Origins,
	}, router, terminals, logManager)

	ln, err := webServer.Listen()
	if err != nil {
		return err
	}
	if err := instance.WriteAddr(dataDir, webServer.Addr()); err != nil {
		appLogger.Error("failed to write addr file", "error", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := webServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("web server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("web server shutdown error", "error", err)
	}

	appLogger.Info("broker stopped")
	return nil
}

// loadConfig loads from the explicit path or the default location.
func loadConfig(configPath string) (config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

// resolveDataDir picks the data directory, defaulting under the user's
// home.
func resolveDataDir(dataDir string) (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "coderoom"), nil
}

// resolvePath anchors relative config paths at the data directory.
func resolvePath(dataDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}
