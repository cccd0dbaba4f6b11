// Package config loads and validates the optional kiln.yaml or kiln.toml
// project file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values for runner and server configuration.
const (
	DefaultPort         = 8080
	DefaultSiteDir      = "site"
	DefaultPollInterval = 2 * time.Second
	DefaultMaxOutput    = 1 << 20 // 1 MB
	DefaultHangLimit    = 10 * time.Second
	DefaultTotalLimit   = 60 * time.Second
)

// Environment overrides, applied after .env is loaded.
const (
	EnvPort         = "KILN_PORT"
	EnvSiteDir      = "KILN_SITE_DIR"
	EnvPollInterval = "KILN_POLL_INTERVAL"
)

// FileNames lists the project files Load looks for, in order of preference.
var FileNames = []string{"kiln.yaml", "kiln.yml", "kiln.toml"}

// Config holds the parsed project configuration.
// All top-level fields are optional; zero values represent defaults.
type Config struct {
	Version         int    `yaml:"version" toml:"version"`
	Port            int    `yaml:"port" toml:"port"`
	SiteDir         string `yaml:"site_dir" toml:"site_dir"`
	RawPollInterval string `yaml:"poll_interval" toml:"poll_interval"` // e.g. "2s", "500ms"
	RawMaxOutput    int    `yaml:"max_output" toml:"max_output"`       // bytes retained per stream
	Steps           []Step `yaml:"steps" toml:"steps"`
}

// Step is one named stage of the build pipeline.
type Step struct {
	Name          string   `yaml:"name" toml:"name"`
	Description   string   `yaml:"description" toml:"description"` // shown in the "▶" banner
	Command       string   `yaml:"command" toml:"command"`
	Dir           string   `yaml:"dir" toml:"dir"` // relative to the project root
	Env           []string `yaml:"env" toml:"env"` // KEY=VALUE
	RawHangLimit  string   `yaml:"hang_limit" toml:"hang_limit"`
	RawTotalLimit string   `yaml:"total_limit" toml:"total_limit"`
	ExpectExit    *int     `yaml:"expect_exit" toml:"expect_exit"`
	IgnoreExit    bool     `yaml:"ignore_exit" toml:"ignore_exit"`

	// Source and Output gate the step: when every file under Source is
	// older than Output the step is skipped.
	Source string `yaml:"source" toml:"source"`
	Output string `yaml:"output" toml:"output"`

	Fetch []FetchRule `yaml:"fetch" toml:"fetch"`
	Copy  []CopyRule  `yaml:"copy" toml:"copy"`
}

// FetchRule downloads URL to Dest unless Dest already exists.
type FetchRule struct {
	URL  string `yaml:"url" toml:"url"`
	Dest string `yaml:"dest" toml:"dest"`
}

// CopyRule copies (or moves) an artifact after the step's command succeeded.
type CopyRule struct {
	From            string `yaml:"from" toml:"from"`
	To              string `yaml:"to" toml:"to"`
	Move            bool   `yaml:"move" toml:"move"`
	FixDeclarations bool   `yaml:"fix_declarations" toml:"fix_declarations"` // rewrite wasm-bindgen .d.ts output
}

// PollInterval returns the configured output poll interval or the default.
func (c *Config) PollInterval() time.Duration {
	return parseDuration(c.RawPollInterval, DefaultPollInterval)
}

// MaxOutputBytes returns the configured max retained output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// Addr returns the listen address of the static server.
func (c *Config) Addr() string {
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort("localhost", strconv.Itoa(port))
}

// Site returns the directory served over HTTP.
func (c *Config) Site() string {
	if c.SiteDir != "" {
		return c.SiteDir
	}
	return DefaultSiteDir
}

// Step returns the step with the given name.
func (c *Config) Step(name string) (Step, bool) {
	for _, s := range c.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// WatchDirs returns the source directories of gated steps, without
// duplicates, in step order.
func (c *Config) WatchDirs() []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, s := range c.Steps {
		if s.Gated() && !seen[s.Source] {
			seen[s.Source] = true
			dirs = append(dirs, s.Source)
		}
	}
	return dirs
}

// Generated returns every path the pipeline itself writes: step outputs,
// copy destinations and fetched assets.
func (c *Config) Generated() []string {
	var paths []string
	for _, s := range c.Steps {
		if s.Output != "" {
			paths = append(paths, s.Output)
		}
		for _, cp := range s.Copy {
			paths = append(paths, cp.To)
		}
		for _, f := range s.Fetch {
			paths = append(paths, f.Dest)
		}
	}
	return paths
}

// HangLimit returns how long the step may stay silent before it counts as hung.
func (s Step) HangLimit() time.Duration {
	return parseDuration(s.RawHangLimit, DefaultHangLimit)
}

// TotalLimit returns the step's total time budget.
func (s Step) TotalLimit() time.Duration {
	return parseDuration(s.RawTotalLimit, DefaultTotalLimit)
}

// ExpectedExitCode returns the exit code the command must finish with, or
// nil when the exit code is ignored.
func (s Step) ExpectedExitCode() *int {
	if s.IgnoreExit {
		return nil
	}
	if s.ExpectExit != nil {
		code := *s.ExpectExit
		return &code
	}
	code := 0
	return &code
}

// Gated reports whether the step consults the staleness check.
func (s Step) Gated() bool {
	return s.Source != "" && s.Output != ""
}

// Banner returns the text printed when the step starts.
func (s Step) Banner() string {
	if s.Description != "" {
		return s.Description
	}
	return "Running " + s.Name
}

// Validate checks the configuration for mistakes that would only surface
// halfway through a build.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.RawPollInterval != "" {
		if _, err := time.ParseDuration(c.RawPollInterval); err != nil {
			errs = append(errs, fmt.Errorf("poll_interval: %w", err))
		}
	}

	seen := make(map[string]bool, len(c.Steps))
	for i, s := range c.Steps {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("step %d: missing name", i+1))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("step %q: duplicate name", s.Name))
		}
		seen[s.Name] = true

		if s.Command == "" && len(s.Fetch) == 0 && len(s.Copy) == 0 {
			errs = append(errs, fmt.Errorf("step %q: nothing to do (no command, fetch or copy)", s.Name))
		}
		if (s.Source == "") != (s.Output == "") {
			errs = append(errs, fmt.Errorf("step %q: source and output must be set together", s.Name))
		}
		if s.IgnoreExit && s.ExpectExit != nil {
			errs = append(errs, fmt.Errorf("step %q: expect_exit and ignore_exit are mutually exclusive", s.Name))
		}
		for field, raw := range map[string]string{"hang_limit": s.RawHangLimit, "total_limit": s.RawTotalLimit} {
			if raw == "" {
				continue
			}
			if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
				errs = append(errs, fmt.Errorf("step %q: invalid %s %q", s.Name, field, raw))
			}
		}
		for _, f := range s.Fetch {
			if f.URL == "" || f.Dest == "" {
				errs = append(errs, fmt.Errorf("step %q: fetch needs url and dest", s.Name))
			}
		}
		for _, cp := range s.Copy {
			if cp.From == "" || cp.To == "" {
				errs = append(errs, fmt.Errorf("step %q: copy needs from and to", s.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// LoadResult holds the parsed config and the discovered project root.
type LoadResult struct {
	Config *Config
	Root   string // directory containing the project file; falls back to dir
	Path   string // project file that was read; empty when defaults are used
}

// Load reads the project file. The project root is discovered by walking
// upward from dir looking for one of FileNames. If none exists, Default is
// used and dir becomes the root. A .env file in the root is loaded without
// overriding variables already set, then KILN_* overrides are applied.
func Load(dir string) (*LoadResult, error) {
	root, path, err := findProjectFile(dir)
	if err != nil {
		abs, absErr := filepath.Abs(dir)
		if absErr != nil {
			return nil, fmt.Errorf("resolving %s: %w", dir, absErr)
		}
		root, path = abs, ""
	}

	if path == "" {
		return finish(Default(), root, "")
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return finish(cfg, root, path)
}

// LoadPath reads an explicit project file. Its directory is the project root.
func LoadPath(path string) (*LoadResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	cfg, err := LoadFile(abs)
	if err != nil {
		return nil, err
	}
	return finish(cfg, filepath.Dir(abs), abs)
}

// finish applies .env and environment overrides, then validates.
func finish(cfg *Config, root, path string) (*LoadResult, error) {
	if err := loadDotEnv(root); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &LoadResult{Config: cfg, Root: root, Path: path}, nil
}

// LoadFile parses a single project file, choosing the decoder by extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	cfg := &Config{}
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
	}
	return cfg, nil
}

func loadDotEnv(root string) error {
	path := filepath.Join(root, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Port = port
	}
	if v := getenv(EnvSiteDir); v != "" {
		cfg.SiteDir = v
	}
	if v := getenv(EnvPollInterval); v != "" {
		cfg.RawPollInterval = v
	}
	return nil
}

// findProjectFile walks upward from dir looking for a directory containing
// one of FileNames.
func findProjectFile(dir string) (string, string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return dir, path, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("no project file found")
		}
		dir = parent
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
