// The upload-all command seeds the storage server with every file currently
// under the watched directories.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/juand-r/ius-dashboard/internal/config"
	"github.com/juand-r/ius-dashboard/internal/journal"
	"github.com/juand-r/ius-dashboard/internal/logging"
	"github.com/juand-r/ius-dashboard/internal/pathutil"
	"github.com/juand-r/ius-dashboard/internal/uploader"
)

type candidate struct {
	abs   string
	rel   string
	size  int64
	mtime time.Time
}

func main() {
	target := flag.String("target", "", "upload target: local, server, or both (required)")
	password := flag.String("password", "", "password for protected datasets")
	force := flag.Bool("force", false, "upload even if the journal says a file is unchanged")
	concurrency := flag.Int("concurrency", 4, "number of concurrent uploads")
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

	for _, c := range clients {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := c.Ping(pingCtx); err != nil {
			logging.Warn("target not reachable", logging.String("url", c.BaseURL()), logging.Err(err))
		}
		cancel()
	}

	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logging.Fatal("failed to open journal", logging.Err(err))
	}
	defer jrnl.Close()

	candidates, err := collect(cfg)
	if err != nil {
		logging.Fatal("failed to scan source directories", logging.Err(err))
	}

	var uploaded, skipped, failed atomic.Int64

	pool, err := ants.NewPool(*concurrency)
	if err != nil {
		logging.Fatal("failed to create worker pool", logging.Err(err))
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var journalMu sync.Mutex

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !*force && jrnl.Unchanged(cand.rel, cand.size, cand.mtime) {
			skipped.Add(1)
			continue
		}

		cand := cand
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if uploadOne(ctx, clients, cand) {
				journalMu.Lock()
				if err := jrnl.Record(cand.rel, cand.size, cand.mtime); err != nil {
					logging.Warn("failed to record upload", logging.String("path", cand.rel), logging.Err(err))
				}
				journalMu.Unlock()
				uploaded.Add(1)
			} else {
				failed.Add(1)
			}
		}); err != nil {
			wg.Done()
			failed.Add(1)
		}
	}
	wg.Wait()

	fmt.Printf("uploaded %d, skipped %d (unchanged), failed %d of %d files\n",
		uploaded.Load(), skipped.Load(), failed.Load(), len(candidates))
	if failed.Load() > 0 {
		os.Exit(1)
	}
}

// collect walks the watched directories and applies the watcher's filters.
func collect(cfg *config.Watcher) ([]candidate, error) {
	var out []candidate
	for _, dir := range cfg.WatchedDirs {
		abs := filepath.Join(cfg.ProjectRoot, filepath.FromSlash(dir))
		err := filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !shouldUpload(d.Name(), cfg) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
				logging.Warn("file exceeds size limit, skipping", logging.String("path", path))
				return nil
			}
			rel, err := filepath.Rel(cfg.ProjectRoot, path)
			if err != nil {
				return err
			}
			out = append(out, candidate{
				abs:   path,
				rel:   filepath.ToSlash(rel),
				size:  info.Size(),
				mtime: info.ModTime(),
			})
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return out, nil
}

func shouldUpload(name string, cfg *config.Watcher) bool {
	for _, pat := range cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return false
		}
	}
	if len(cfg.WatchPatterns) == 0 {
		return true
	}
	for _, pat := range cfg.WatchPatterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// uploadOne sends the file to every target; true only if all succeed.
func uploadOne(ctx context.Context, clients []*uploader.Client, cand candidate) bool {
	data, err := os.ReadFile(cand.abs)
	if err != nil {
		logging.Warn("failed to read file", logging.String("path", cand.rel), logging.Err(err))
		return false
	}

	collection := pathutil.DetectCollection(cand.rel)
	timestamp := cand.mtime.UTC().Format(time.RFC3339)

	ok := true
	for _, c := range clients {
		if _, err := c.Upload(ctx, cand.rel, bytes.NewReader(data), collection, timestamp); err != nil {
			logging.Error("upload failed",
				logging.String("path", cand.rel),
				logging.String("url", c.BaseURL()),
				logging.Err(err),
			)
			ok = false
			continue
		}
		logging.Info("uploaded", logging.String("path", cand.rel), logging.String("url", c.BaseURL()))
	}
	return ok
}
