package validator

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDisposableDomains are rejected even when no blocklist file is configured
var DefaultDisposableDomains = []string{
	"example.com",
	"mailinator.com",
	"tempmail.net",
	"company.com",
	"test.com",
	"business.com",
}

// Blocklist rejects addresses on disposable domains. The domain set is the
// built-in defaults plus an optional file, which is reloaded when it changes.
type Blocklist struct {
	defaults []string
	path     string
	logger   *slog.Logger

	mu      sync.RWMutex
	domains map[string]struct{}

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewBlocklist creates a blocklist from defaults and the file at path.
// An empty path disables the file.
func NewBlocklist(defaults []string, path string, logger *slog.Logger) (*Blocklist, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Blocklist{
		defaults: defaults,
		path:     path,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name identifies the check in rejection reasons
func (b *Blocklist) Name() string {
	return "disposable domain"
}

// Allow reports whether domain is not blocklisted
func (b *Blocklist) Allow(_, domain string) bool {
	return !b.Contains(domain)
}

// Contains reports whether domain is blocklisted. Entries match the exact
// domain only, except entries written with a leading dot (".mailinator.com")
// which also match every subdomain.
func (b *Blocklist) Contains(domain string) bool {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.domains[domain]; ok {
		return true
	}
	for d := domain; d != ""; {
		if _, ok := b.domains["."+d]; ok {
			return true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}
	return false
}

// Len returns the number of blocklisted domains
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.domains)
}

// Reload rebuilds the domain set from the defaults and the file
func (b *Blocklist) Reload() error {
	domains := make(map[string]struct{}, len(b.defaults))
	for _, d := range b.defaults {
		domains[normalizeDomain(d)] = struct{}{}
	}

	if b.path != "" {
		fromFile, err := readDomainFile(b.path)
		if err != nil {
			return fmt.Errorf("failed to load blocklist: %w", err)
		}
		for _, d := range fromFile {
			domains[d] = struct{}{}
		}
	}

	b.mu.Lock()
	b.domains = domains
	b.mu.Unlock()

	b.logger.Info("Disposable domain blocklist loaded",
		slog.Int("domains", len(domains)),
		slog.String("path", b.path),
	)
	return nil
}

// Watch reloads the blocklist whenever its file is written or replaced.
// It is a no-op when no file is configured.
func (b *Blocklist) Watch() error {
	if b.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: editors often replace the file instead of writing it
	if err := watcher.Add(filepath.Dir(b.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch blocklist directory: %w", err)
	}

	b.watcher = watcher
	go b.watchLoop()
	return nil
}

// Stop stops watching the blocklist file
func (b *Blocklist) Stop() {
	if b.watcher == nil {
		return
	}
	close(b.stopCh)
	_ = b.watcher.Close()
}

func (b *Blocklist) watchLoop() {
	debounce := time.NewTimer(0)
	<-debounce.C

	target := filepath.Clean(b.path)

	for {
		select {
		case <-b.stopCh:
			debounce.Stop()
			return

		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			if err := b.Reload(); err != nil {
				b.logger.Error("Failed to reload blocklist",
					slog.String("path", b.path),
					slog.Any("error", err),
				)
			}

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("Blocklist watcher error",
				slog.Any("error", err),
			)
		}
	}
}

func readDomainFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, normalizeDomain(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return domains, nil
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(d), "."))
}
