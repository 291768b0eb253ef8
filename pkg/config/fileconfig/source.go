// Package fileconfig implements config.Provider over local YAML files or
// HTTP(S) URLs, the source kinds named in spec.md §6.
package fileconfig

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cubicler/cubicler/pkg/httpclient"
)

// source abstracts where a single YAML document comes from. Cubicler's
// three documents (agents/providers/webhooks) may each live at a different
// location, so each gets its own source.
type source interface {
	// load reads the document's current raw bytes.
	load(ctx context.Context) ([]byte, error)

	// watch signals on the returned channel whenever the document may have
	// changed; implementations that can't detect changes return a nil
	// channel and a nil error.
	watch(ctx context.Context) (<-chan struct{}, error)

	// close releases resources held by watch.
	close() error
}

// newSource builds a file or URL source depending on loc's form: anything
// starting with "http://" or "https://" is fetched over HTTP, everything
// else is treated as a local file path.
func newSource(loc string, client *httpclient.Client) (source, error) {
	if loc == "" {
		return nil, fmt.Errorf("config source location is required")
	}
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return &urlSource{url: loc, client: client}, nil
	}
	return newFileSource(loc)
}

// fileSource reads a document from the local filesystem and can watch its
// containing directory for changes (spec.md §6: config reload on file
// change).
type fileSource struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

func newFileSource(path string) (*fileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &fileSource{path: abs}, nil
}

func (s *fileSource) load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", s.path, err)
	}
	return data, nil
}

func (s *fileSource) watch(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("source is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	s.watcher = watcher

	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	go s.watchLoop(ctx, watcher, base, ch)
	return ch, nil
}

func (s *fileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, base string, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	var debounce *time.Timer
	const delay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(delay, func() {
					select {
					case ch <- struct{}{}:
					default:
					}
				})
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *fileSource) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// urlSource fetches a document over HTTP using the shared retrying client.
// It has no reliable change-notification mechanism, so watch is a no-op — a
// change is picked up when the cached copy's TTL expires and the next read
// re-fetches it, or by an explicit Reload().
type urlSource struct {
	url    string
	client *httpclient.Client
}

func (s *urlSource) load(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", s.url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config from %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch config from %s: status %d", s.url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read config body from %s: %w", s.url, err)
	}
	return data, nil
}

func (s *urlSource) watch(ctx context.Context) (<-chan struct{}, error) {
	return nil, nil
}

func (s *urlSource) close() error { return nil }
