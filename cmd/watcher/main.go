// The watcher command monitors the project source directories and uploads
// changed files to the configured targets.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/juand-r/ius-dashboard/internal/config"
	"github.com/juand-r/ius-dashboard/internal/logging"
	"github.com/juand-r/ius-dashboard/internal/pathutil"
	"github.com/juand-r/ius-dashboard/internal/uploader"
	"github.com/juand-r/ius-dashboard/internal/watcher"
)

func main() {
	target := flag.String("target", "", "upload target: local, server, or both (required)")
	password := flag.String("password", "", "password for protected datasets")
	flag.Parse()

	if *target == "" {
		fmt.Fprintln(os.Stderr, "--target is required (local, server, or both)")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWatcher()
	if err != nil {
		logging.InitDefault()
		logging.Fatal("invalid configuration", logging.Err(err))
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		logging.InitDefault()
	}
	defer logging.Sync()

	urls, err := cfg.TargetURLs(*target)
	if err != nil {
		logging.Fatal("invalid target", logging.Err(err))
	}

	clients := make([]*uploader.Client, 0, len(urls))
	for _, u := range urls {
		clients = append(clients, uploader.New(uploader.Config{
			BaseURL:            u,
			Username:           cfg.Username,
			Password:           *password,
			ProtectedFragments: cfg.ProtectedDatasets,
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	for _, c := range clients {
		if err := c.Ping(pingCtx); err != nil {
			logging.Warn("target not reachable, uploads will fail until it is",
				logging.String("url", c.BaseURL()), logging.Err(err))
		}
	}
	cancel()

	w, err := watcher.New(watcher.Config{
		ProjectRoot:    cfg.ProjectRoot,
		Dirs:           cfg.WatchedDirs,
		Debounce:       time.Duration(cfg.DebounceSeconds) * time.Second,
		MaxFileSize:    cfg.MaxFileSize,
		WatchPatterns:  cfg.WatchPatterns,
		IgnorePatterns: cfg.IgnorePatterns,
	})
	if err != nil {
		logging.Fatal("failed to start watcher", logging.Err(err))
	}

	go w.Run(ctx)
	logging.Info("watcher running",
		logging.String("project_root", cfg.ProjectRoot),
		logging.Any("dirs", cfg.WatchedDirs),
		logging.String("target", *target),
	)

	// one goroutine per fired path: a slow target must not hold up
	// uploads of unrelated files
	var wg sync.WaitGroup
	for ev := range w.Events() {
		ev := ev
		wg.Add(1)
		go func() {
			defer wg.Done()
			uploadEvent(ctx, clients, ev)
		}()
	}
	wg.Wait()
	logging.Info("watcher stopped")
}

func uploadEvent(ctx context.Context, clients []*uploader.Client, ev watcher.Event) {
	data, err := os.ReadFile(ev.AbsPath)
	if err != nil {
		logging.Warn("file vanished before upload", logging.String("path", ev.RelPath), logging.Err(err))
		return
	}

	collection := pathutil.DetectCollection(ev.RelPath)
	timestamp := time.Now().UTC().Format(time.RFC3339)

	for _, c := range clients {
		resp, err := c.Upload(ctx, ev.RelPath, bytes.NewReader(data), collection, timestamp)
		if err != nil {
			logging.Error("upload failed",
				logging.String("path", ev.RelPath),
				logging.String("url", c.BaseURL()),
				logging.Err(err),
			)
			continue
		}
		logging.Info("uploaded",
			logging.String("path", resp.Path),
			logging.String("collection", resp.Collection),
			logging.Int64("size", resp.Size),
			logging.String("url", c.BaseURL()),
		)
	}
}
