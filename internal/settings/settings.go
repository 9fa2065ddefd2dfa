// Package settings holds the locally persisted user preferences: the Plus
// entitlement flag, UI theme, reply language, and preferred generation mode.
// Persistence goes through an injected Store so nothing in the app reads
// ambient global state.
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Settings is a plain value object. Zero value is not useful; start from
// Default().
type Settings struct {
	Plus     bool   `toml:"plus"`
	Theme    string `toml:"theme"`
	Language string `toml:"language"`
	Mode     string `toml:"mode"`
}

func Default() Settings {
	return Settings{
		Plus:     false,
		Theme:    "light",
		Language: "English",
		Mode:     "fast",
	}
}

// Store loads and saves settings. Implementations must survive process
// restarts.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// FileStore persists settings as a TOML file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns Default() when the file does not exist yet.
func (s *FileStore) Load() (Settings, error) {
	out := Default()
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return out, nil
	}
	if _, err := toml.DecodeFile(s.path, &out); err != nil {
		return Default(), fmt.Errorf("decode settings %s: %w", s.path, err)
	}
	return out, nil
}

func (s *FileStore) Save(v Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create settings file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return nil
}

// MemoryStore keeps settings in memory; used by tests and local mode.
type MemoryStore struct {
	current Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{current: Default()}
}

func (s *MemoryStore) Load() (Settings, error) { return s.current, nil }

func (s *MemoryStore) Save(v Settings) error {
	s.current = v
	return nil
}
