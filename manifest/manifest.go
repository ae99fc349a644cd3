// Package manifest handles theia.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/maxstrauch/theia/compiler"
)

// FileName is the name of the configuration file.
const FileName = "theia.toml"

// Manifest represents a theia.toml configuration.
type Manifest struct {
	Machine Machine       `toml:"machine" json:"machine"`
	Server  Server        `toml:"server" json:"server"`
	Log     Log           `toml:"log" json:"log"`
	History HistoryConfig `toml:"history" json:"history"`

	// Dir is the directory containing the theia.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Machine configures compilation and execution.
type Machine struct {
	Language string `toml:"language" json:"language"`
	Trace    bool   `toml:"trace" json:"trace"`
}

// Server configures the RPC listener.
type Server struct {
	Addr string `toml:"addr" json:"addr"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// HistoryConfig configures the run journal.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
	Limit   int    `toml:"limit" json:"limit"`
}

// Default returns the configuration used when no theia.toml exists.
func Default() *Manifest {
	m := &Manifest{
		History: HistoryConfig{Enabled: true},
	}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Machine.Language == "" {
		m.Machine.Language = "loop"
	}
	m.Machine.Language = strings.ToLower(m.Machine.Language)
	if m.Server.Addr == "" {
		m.Server.Addr = ":4567"
	}
	if m.History.Path == "" {
		m.History.Path = filepath.Join(".theia", "history.db")
	}
	if m.History.Limit == 0 {
		m.History.Limit = 100
	}
}

// Parse decodes and validates theia.toml content. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	// history.enabled defaults to true, so it is preset before decoding.
	m := Manifest{History: HistoryConfig{Enabled: true}}
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, err
	}
	m.applyDefaults()
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load parses a theia.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a theia.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// FindOrDefault is FindAndLoad falling back to Default when no file exists.
func FindOrDefault(startDir string) (*Manifest, error) {
	m, err := FindAndLoad(startDir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = Default()
	}
	return m, nil
}

// Language returns the configured default language.
func (m *Manifest) Language() compiler.Language {
	lang, err := compiler.ParseLanguage(m.Machine.Language)
	if err != nil {
		return compiler.LangLoop
	}
	return lang
}

// HistoryPath returns the journal path, resolved against the manifest
// directory when relative.
func (m *Manifest) HistoryPath() string {
	if filepath.IsAbs(m.History.Path) || m.Dir == "" {
		return m.History.Path
	}
	return filepath.Join(m.Dir, m.History.Path)
}

// LogFile returns the log file path or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) && m.Dir != "" {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
