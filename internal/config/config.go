package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when no
// path is given explicitly.
const DefaultFile = "datapages.yaml"

// Config represents the complete datapages configuration. It is built once at
// startup and passed by pointer; nothing modifies it afterwards.
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	Store   StoreConfig    `yaml:"store"`
	Fetch   FetchConfig    `yaml:"fetch"`
	Sync    SyncConfig     `yaml:"sync"`
	Publish PublishConfig  `yaml:"publish"`
}

// SourceConfig describes one remote dataset and where it is kept locally
type SourceConfig struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Path         string `yaml:"path"`          // relative to store.root
	VersionField string `yaml:"version_field"` // top-level field logged on change
}

// StoreConfig configures the local store
type StoreConfig struct {
	Root string `yaml:"root"`
}

// FetchConfig configures remote retrieval
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// SyncConfig configures the failure policy of a run
type SyncConfig struct {
	// ContinueOnError keeps processing the remaining sources when one fetch
	// fails. The run still ends with an error.
	ContinueOnError bool `yaml:"continue_on_error"`
}

// PublishConfig configures the deployment target
type PublishConfig struct {
	// Repository is either "owner/name" (a GitHub repository) or any URL or
	// path git can clone. Environment variables are expanded when the target
	// is resolved, so the default follows GITHUB_REPOSITORY.
	Repository  string       `yaml:"repository"`
	Branch      string       `yaml:"branch"`
	TargetDir   string       `yaml:"target_dir"`
	TokenEnv    string       `yaml:"token_env"`
	SSHKeyFile  string       `yaml:"ssh_key_file"`
	Message     string       `yaml:"message"`
	NoJekyll    bool         `yaml:"nojekyll"`
	WorkDir     string       `yaml:"work_dir"`
	AuthorName  string       `yaml:"author_name"`
	AuthorEmail string       `yaml:"author_email"`
	Record      RecordConfig `yaml:"record"`
}

// RecordConfig configures the optional commit of the store to the primary
// history before the deployment push.
type RecordConfig struct {
	Enabled bool   `yaml:"enabled"`
	RepoDir string `yaml:"repo_dir"`
	Branch  string `yaml:"branch"`
	Message string `yaml:"message"`
}

// Error is a configuration problem. It is always fatal and is detected before
// any fetch or publish step runs.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a *Error for field.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Err: fmt.Errorf(format, args...)}
}

// NewDefaultConfig returns the built-in configuration: the two game datasets
// mirrored into ./public/data and published to the gh-pages branch.
func NewDefaultConfig() *Config {
	return &Config{
		Sources: []SourceConfig{
			{
				Name:         "data",
				URL:          "https://raw.githubusercontent.com/silent1b/MWIData/main/init_client_info.json",
				Path:         "data.json",
				VersionField: "time",
			},
			{
				Name:         "market",
				URL:          "https://raw.githubusercontent.com/holychikenz/MWIApi/main/milkyapi.json",
				Path:         "market.json",
				VersionField: "time",
			},
		},
		Store: StoreConfig{
			Root: "./public/data",
		},
		Fetch: FetchConfig{
			Timeout:   60 * time.Second,
			UserAgent: "datapages",
			MaxBytes:  64 << 20,
		},
		Publish: PublishConfig{
			Repository:  "${GITHUB_REPOSITORY}",
			Branch:      "gh-pages",
			TargetDir:   "data",
			TokenEnv:    "GITHUB_TOKEN",
			Message:     "Deploy game data to GitHub Pages",
			NoJekyll:    true,
			AuthorName:  "github-actions[bot]",
			AuthorEmail: "41898282+github-actions[bot]@users.noreply.github.com",
			Record: RecordConfig{
				RepoDir: ".",
				Branch:  "main",
				Message: "chore: update game data",
			},
		},
	}
}

// Load reads the configuration file at path on top of the defaults.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to parse config file: %w", err)}
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnv expands environment variables in string fields. The publish
// repository is left alone; it is expanded when the target is resolved.
func (c *Config) expandEnv() {
	for i := range c.Sources {
		c.Sources[i].URL = os.ExpandEnv(c.Sources[i].URL)
		c.Sources[i].Path = os.ExpandEnv(c.Sources[i].Path)
	}
	c.Store.Root = os.ExpandEnv(c.Store.Root)
	c.Publish.SSHKeyFile = os.ExpandEnv(c.Publish.SSHKeyFile)
	c.Publish.WorkDir = os.ExpandEnv(c.Publish.WorkDir)
	c.Publish.Record.RepoDir = os.ExpandEnv(c.Publish.Record.RepoDir)
}

// applyDefaults fills in zero-value fields that a config file may have
// cleared or omitted.
func (c *Config) applyDefaults() {
	def := NewDefaultConfig()

	for i := range c.Sources {
		if c.Sources[i].VersionField == "" {
			c.Sources[i].VersionField = "time"
		}
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = def.Fetch.Timeout
	}
	if c.Fetch.MaxBytes == 0 {
		c.Fetch.MaxBytes = def.Fetch.MaxBytes
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = def.Fetch.UserAgent
	}
	if c.Publish.Message == "" {
		c.Publish.Message = def.Publish.Message
	}
	if c.Publish.AuthorName == "" {
		c.Publish.AuthorName = def.Publish.AuthorName
	}
	if c.Publish.AuthorEmail == "" {
		c.Publish.AuthorEmail = def.Publish.AuthorEmail
	}
	if c.Publish.Record.Message == "" {
		c.Publish.Record.Message = def.Publish.Record.Message
	}
}

var sourceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return Errorf("sources", "at least one source is required")
	}

	names := make(map[string]bool, len(c.Sources))
	paths := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		field := fmt.Sprintf("sources[%d]", i)

		if err := src.Validate(); err != nil {
			return &Error{Field: field, Err: err}
		}
		if names[src.Name] {
			return Errorf(field, "duplicate source name %q", src.Name)
		}
		names[src.Name] = true

		clean := path.Clean(src.Path)
		if paths[clean] {
			return Errorf(field, "duplicate source path %q", src.Path)
		}
		paths[clean] = true
	}

	if err := validation.ValidateStruct(&c.Store,
		validation.Field(&c.Store.Root, validation.Required),
	); err != nil {
		return &Error{Field: "store", Err: err}
	}

	if err := validation.ValidateStruct(&c.Fetch,
		validation.Field(&c.Fetch.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.Fetch.MaxBytes, validation.Min(int64(0))),
	); err != nil {
		return &Error{Field: "fetch", Err: err}
	}

	if err := c.Publish.Validate(); err != nil {
		return &Error{Field: "publish", Err: err}
	}

	return nil
}

// Validate checks a single source entry.
func (s *SourceConfig) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required, validation.Match(sourceNamePattern)),
		validation.Field(&s.URL, validation.Required, is.URL, validation.By(httpScheme)),
		validation.Field(&s.Path, validation.Required, validation.By(relativeInside)),
	)
}

// Validate checks the publish section. The repository and credentials are
// checked separately, only when publishing.
func (p *PublishConfig) Validate() error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.Branch, validation.Required),
		validation.Field(&p.TargetDir, validation.By(relativeInsideOrEmpty)),
		validation.Field(&p.AuthorName, validation.Required),
		validation.Field(&p.AuthorEmail, validation.Required),
	); err != nil {
		return err
	}

	if p.Record.Enabled {
		if err := validation.ValidateStruct(&p.Record,
			validation.Field(&p.Record.RepoDir, validation.Required),
			validation.Field(&p.Record.Branch, validation.Required),
		); err != nil {
			return fmt.Errorf("record: %w", err)
		}
	}

	return nil
}

// WorkRoot returns the directory that holds the publish working copy.
func (p *PublishConfig) WorkRoot() string {
	if p.WorkDir == "" {
		return os.TempDir()
	}
	return p.WorkDir
}

func httpScheme(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
		return errors.New("must use http or https")
	}
	return nil
}

func relativeInsideOrEmpty(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return relativeInside(value)
}

// relativeInside accepts slash-separated relative paths that stay below
// their base directory. Hidden components are rejected since the store never
// lists or publishes hidden files.
func relativeInside(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if path.IsAbs(s) || filepath.IsAbs(s) {
		return errors.New("must be a relative path")
	}
	clean := path.Clean(filepath.ToSlash(s))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.New("must stay inside its base directory")
	}
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return errors.New("must not contain hidden components")
		}
	}
	return nil
}
