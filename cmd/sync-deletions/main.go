// The sync-deletions command removes server-side files whose local source no
// longer exists. It never writes to the local tree.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/juand-r/ius-dashboard/internal/config"
	"github.com/juand-r/ius-dashboard/internal/logging"
	"github.com/juand-r/ius-dashboard/internal/synctool"
	"github.com/juand-r/ius-dashboard/internal/uploader"
)

func main() {
	target := flag.String("target", "", "server to sync against: local, server, or both (required)")
	password := flag.String("password", "", "password for protected datasets")
	dryRun := flag.Bool("dry-run", false, "list orphans without deleting")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := synctool.LocalFiles(cfg.ProjectRoot, cfg.WatchedDirs, cfg.SyncPatterns)
	if err != nil {
		logging.Fatal("failed to scan local files", logging.Err(err))
	}

	exitCode := 0
	for _, u := range urls {
		client := uploader.New(uploader.Config{
			BaseURL:            u,
			Username:           cfg.Username,
			Password:           *password,
			ProtectedFragments: cfg.ProtectedDatasets,
		})
		if !syncOne(ctx, client, local, cfg.SyncPatterns, *dryRun, *yes) {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func syncOne(ctx context.Context, client *uploader.Client, local map[string]struct{}, patterns []string, dryRun, yes bool) bool {
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	remote, err := client.ListRemote(listCtx)
	cancel()
	if err != nil {
		logging.Error("failed to list server files",
			logging.String("url", client.BaseURL()), logging.Err(err))
		return false
	}

	orphans := synctool.Orphans(remote, local, patterns)
	fmt.Printf("%s: %d local files, %d remote files, %d orphans\n",
		client.BaseURL(), len(local), len(remote), len(orphans))
	if len(orphans) == 0 {
		return true
	}

	preview := orphans
	if len(preview) > 10 {
		preview = preview[:10]
	}
	for _, p := range preview {
		fmt.Printf("  %s\n", p)
	}
	if len(orphans) > len(preview) {
		fmt.Printf("  ... and %d more\n", len(orphans)-len(preview))
	}

	if dryRun {
		fmt.Println("dry run, nothing deleted")
		return true
	}
	if !yes && !confirm(fmt.Sprintf("Delete %d files from %s?", len(orphans), client.BaseURL())) {
		fmt.Println("aborted")
		return true
	}

	deleted := 0
	ok := true
	for _, p := range orphans {
		if ctx.Err() != nil {
			break
		}
		if err := client.Delete(ctx, p); err != nil {
			logging.Error("delete failed", logging.String("path", p), logging.Err(err))
			ok = false
			continue
		}
		deleted++
	}
	fmt.Printf("deleted %d of %d orphans\n", deleted, len(orphans))
	return ok
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
