package store

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"klaus/types"
)

var watchedFiles = map[string]bool{
	types.SiteFactsMarkdown: true,
	types.SiteFactsRecords:  true,
	types.ProfileDump:       true,
	types.EmbeddingIndex:    true,
}

// Watcher resets the FactStore caches when a knowledge base file in the
// data directory changes.
type Watcher struct {
	facts   *FactStore
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewWatcher(facts *FactStore) *Watcher {
	return &Watcher{facts: facts, done: make(chan struct{})}
}

// Start begins watching the data directory. Call Stop to clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.facts.DataDir()); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop()
	log.Printf("[RELOAD] watching %s for knowledge base changes", w.facts.DataDir())
	return nil
}

func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if watchedFiles[filepath.Base(evt.Name)] {
				log.Printf("[RELOAD] %s changed (%s)", filepath.Base(evt.Name), evt.Op)
				w.facts.Reset()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[RELOAD] watcher error: %v", err)
		}
	}
}
