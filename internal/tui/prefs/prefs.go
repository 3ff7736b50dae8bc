// Package prefs remembers the viewer's identity and watched orders between
// runs. Notifications are never written to disk.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// prefsVersion is bumped when the schema changes.
	prefsVersion = 1

	prefsFileName = "prefs.json"
	appDirName    = "erp-notify"
)

// Prefs is what the viewer restores on start.
type Prefs struct {
	Version     int       `json:"version"`
	User        string    `json:"user,omitempty"`
	URL         string    `json:"url,omitempty"`
	Orders      []string  `json:"orders,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// SetOrders stores a sorted, de-duplicated copy of ids.
func (p *Prefs) SetOrders(ids []string) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	p.Orders = out
}

// Store loads and saves Prefs in one directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. Pass an empty string to use the
// default XDG state path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultDir()
	}
	return &Store{dir: dir}
}

// Path returns the full path to the prefs file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, prefsFileName)
}

// Load reads prefs from disk. A missing file yields empty Prefs.
func (s *Store) Load() (*Prefs, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &Prefs{Version: prefsVersion}, nil
		}
		return nil, fmt.Errorf("reading prefs: %w", err)
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prefs: %w", err)
	}
	return &p, nil
}

// Save writes prefs using a temp-file-then-rename so a crash never leaves a
// truncated file behind.
func (s *Store) Save(p *Prefs) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating prefs dir: %w", err)
	}

	p.Version = prefsVersion
	p.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling prefs: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming prefs file: %w", err)
	}
	committed = true

	return nil
}

func defaultDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
