package tracker

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// allowlist holds the filenames a private tracker accepts. A nil map means
// public mode.
type allowlist struct {
	names atomic.Pointer[map[string]struct{}]
}

// loadAllowlistFile reads one filename per line. Empty lines and lines
// starting with # are ignored. A missing file yields an empty set, which
// blocks everything.
func loadAllowlistFile(path string) map[string]struct{} {
	//nolint:gosec // Path is controlled by admin
	file, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open allowlist file")
		return make(map[string]struct{})
	}
	//nolint:errcheck // File close errors ignored during read
	defer file.Close()

	names := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			log.Warn().Int("line", lineNum).Msg("allowlist: filename contains whitespace, skipping")
			continue
		}
		names[line] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("error reading allowlist file")
	}

	return names
}

func (a *allowlist) reload(path string) int {
	names := loadAllowlistFile(path)
	a.names.Store(&names)
	return len(names)
}

// allows reports whether filename may be registered or looked up.
func (a *allowlist) allows(filename string) bool {
	m := a.names.Load()
	if m == nil {
		return true
	}
	_, ok := (*m)[filename]
	return ok
}

// watch loads path now and reloads it whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (a *allowlist) watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	log.Info().Int("names", a.reload(path)).Str("path", path).Msg("loaded allowlist")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Errorf("allowlist watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		//nolint:errcheck // Watcher is being discarded
		watcher.Close()
		return xerrors.Errorf("allowlist watch %s: %w", path, err)
	}

	go func() {
		//nolint:errcheck // Nothing to do on close failure
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				log.Info().Int("names", a.reload(path)).Msg("reloaded allowlist")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("allowlist watcher error")
			}
		}
	}()
	return nil
}
