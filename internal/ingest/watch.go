package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay unchanged before it is uploaded.
const DefaultSettle = 2 * time.Second

// Watcher uploads CSV files that appear in a directory.
type Watcher struct {
	Uploader *Uploader
	Dir      string
	Ingest   string
	// Settle collapses bursts of write events into one upload.
	Settle time.Duration
	// OnUpload is called after every successful upload.
	OnUpload func(key string)
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// Run watches Dir until ctx is cancelled. Files are uploaded once they stop
// changing; a file is uploaded again only when its size or mtime changes.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := LandingKey(w.Ingest, "probe.csv"); err != nil {
		return err
	}
	settle := w.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	log := w.Uploader.Logger.With("dir", w.Dir, "ingest", w.Ingest)
	log.Info("watching for CSV files")

	ready := make(chan string)
	timers := map[string]*time.Timer{}
	uploaded := map[string]fileStamp{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isCSV(ev.Name) || !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			name := ev.Name
			if t, ok := timers[name]; ok {
				t.Reset(settle)
				continue
			}
			timers[name] = time.AfterFunc(settle, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			delete(timers, name)
			info, err := os.Stat(name)
			if err != nil || info.IsDir() {
				continue
			}
			stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
			if prev, ok := uploaded[name]; ok && prev == stamp {
				log.Debug("file unchanged, skipping", "file", name)
				continue
			}
			key, err := w.Uploader.Upload(ctx, name, w.Ingest)
			if err != nil {
				log.Error("upload failed", "file", name, "err", err)
				continue
			}
			uploaded[name] = stamp
			if w.OnUpload != nil {
				w.OnUpload(key)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", w.Dir, err)
		}
	}
}

func isCSV(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".csv")
}
