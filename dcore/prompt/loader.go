// Package prompt assembles the system prompt from workspace markdown
// files and keeps it fresh while the process runs.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// promptFiles are concatenated, in order, into the system prompt. Missing
// files are skipped.
var promptFiles = []string{"SOUL.md", "USER.md", "AGENTS.md", "MEMORY.md"}

// Loader reads the workspace prompt files and caches the assembled prompt.
// New conversations pick up the latest assembly; running conversations
// keep the prompt they started with.
type Loader struct {
	root   string
	logger zerolog.Logger

	mu      sync.RWMutex
	current string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader creates a loader rooted at the workspace directory and
// performs the initial assembly.
func NewLoader(root string, logger zerolog.Logger) (*Loader, error) {
	l := &Loader{
		root:   root,
		logger: logger.With().Str("component", "prompt").Logger(),
		done:   make(chan struct{}),
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// SystemPrompt returns the most recently assembled prompt.
func (l *Loader) SystemPrompt() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch re-assembles the prompt whenever one of the workspace files
// changes. It returns after starting the watch goroutine.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create workspace watcher: %w", err)
	}
	if err := watcher.Add(l.root); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch workspace %s: %w", l.root, err)
	}
	l.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				if !isPromptFile(filepath.Base(event.Name)) {
					continue
				}
				if err := l.reload(); err != nil {
					l.logger.Warn().Err(err).Str("file", event.Name).Msg("prompt reload failed")
					continue
				}
				l.logger.Info().Str("file", event.Name).Msg("system prompt reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn().Err(err).Msg("workspace watcher error")
			case <-l.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if started.
func (l *Loader) Close() {
	close(l.done)
	if l.watcher != nil {
		l.watcher.Close()
	}
}

func (l *Loader) reload() error {
	assembled, err := Assemble(l.root)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.current = assembled
	l.mu.Unlock()
	return nil
}

// Assemble concatenates the workspace prompt files, each under a
// `# <name>` header, joined by blank lines.
func Assemble(root string) (string, error) {
	var parts []string
	for _, name := range promptFiles {
		content, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("failed to read prompt file %s: %w", name, err)
		}
		parts = append(parts, fmt.Sprintf("# %s\n%s", name, content))
	}
	return strings.Join(parts, "\n\n"), nil
}

func isPromptFile(name string) bool {
	for _, f := range promptFiles {
		if name == f {
			return true
		}
	}
	return false
}
