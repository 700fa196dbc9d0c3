// Package config handles loading and parsing of the routing configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/jmylchreest/shana/internal/backend"
)

const (
	// AppDirName is the directory under the user's config home.
	AppDirName = "xdg-desktop-portal-shana"
	// FileName is the configuration file inside AppDirName.
	FileName = "config.toml"
)

// File is the on-disk representation of the configuration.
// Every key is optional; empty values count as unset.
type File struct {
	OpenFile  string `toml:"open_file,omitempty"`
	SaveFile  string `toml:"save_file,omitempty"`
	SaveFiles string `toml:"save_files,omitempty"`
	Tips      *Tips  `toml:"tips,omitempty"`
}

// Tips holds per-case overrides.
type Tips struct {
	OpenFileWhenFolder    string `toml:"open_file_when_folder,omitempty"`
	OpenFileWhenDirectory string `toml:"open_file_when_directory,omitempty"` // alias of OpenFileWhenFolder
}

// directoryOverride returns the configured directory-open backend, if any.
func (f *File) directoryOverride() string {
	if f.Tips == nil {
		return ""
	}
	if f.Tips.OpenFileWhenFolder != "" {
		return f.Tips.OpenFileWhenFolder
	}
	return f.Tips.OpenFileWhenDirectory
}

// Routing is the resolved backend for each file-chooser operation.
// A Routing built by NewRouting or DefaultRouting never has an unresolved field.
type Routing struct {
	OpenFile              backend.Selection
	SaveFile              backend.Selection
	SaveFiles             backend.Selection
	OpenFileWhenDirectory backend.Selection
}

// DefaultRouting is used when there is no usable configuration file.
func DefaultRouting() Routing {
	return Routing{
		OpenFile:              backend.GNOME,
		SaveFile:              backend.GNOME,
		SaveFiles:             backend.GNOME,
		OpenFileWhenDirectory: backend.GNOME,
	}
}

// IsEmpty reports whether the file sets no keys at all.
func (f *File) IsEmpty() bool {
	return f == nil ||
		(f.OpenFile == "" && f.SaveFile == "" && f.SaveFiles == "" && f.directoryOverride() == "")
}

// NewRouting resolves a parsed file into a Routing. A nil or empty file
// yields DefaultRouting, the same as a missing one.
//
// Missing open_file and save_file resolve to GNOME, a missing save_files to GTK
// (the only chooser that implemented SaveFiles historically), and a missing
// directory override to whatever open_file resolved to.
func NewRouting(f *File) Routing {
	if f.IsEmpty() {
		return DefaultRouting()
	}

	r := Routing{
		OpenFile:  selectOr(f.OpenFile, backend.GNOME),
		SaveFile:  selectOr(f.SaveFile, backend.GNOME),
		SaveFiles: selectOr(f.SaveFiles, backend.GTK),
	}
	r.OpenFileWhenDirectory = selectOr(f.directoryOverride(), r.OpenFile)
	return r
}

func selectOr(value string, fallback backend.Selection) backend.Selection {
	if value == "" {
		return fallback
	}
	return backend.Parse(value)
}

// ForOpen returns the backend for an OpenFile call.
func (r Routing) ForOpen(directory bool) backend.Selection {
	if directory {
		return r.OpenFileWhenDirectory
	}
	return r.OpenFile
}

// File returns a fully explicit file that resolves back to r.
func (r Routing) File() *File {
	return &File{
		OpenFile:  r.OpenFile.String(),
		SaveFile:  r.SaveFile.String(),
		SaveFiles: r.SaveFiles.String(),
		Tips: &Tips{
			OpenFileWhenFolder: r.OpenFileWhenDirectory.String(),
		},
	}
}

// ConfigDir returns the directory holding the configuration file.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
// Returns "" when neither is available.
func ConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, AppDirName)
}

// ConfigPath returns the path to the config file, or "" if it cannot be located.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, FileName)
}

// LoadFile reads and parses the file at path.
// Unlike Load, it reports every error, including a missing file.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("unable to determine config path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &f, nil
}

// Load reads the routing from path. It never fails: a missing, unreadable or
// malformed file yields DefaultRouting.
func Load(path string) Routing {
	f, err := LoadFile(path)
	if err != nil {
		return DefaultRouting()
	}
	return NewRouting(f)
}

// Save writes the file to path, creating parent directories if needed.
func (f *File) Save(path string) error {
	if path == "" {
		return errors.New("unable to determine config path")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write atomically via temp file so the watcher never sees half a file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
