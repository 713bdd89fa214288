package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/checksum"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ingest"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	StoreBackendMemory = "memory"
	StoreBackendSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Ingest   IngestConfig      `yaml:"ingest"`
	Profiles ProfilesConfig    `yaml:"profiles"`
	Store    StoreConfig       `yaml:"store"`
	Watch    WatchConfig       `yaml:"watch"`
	Exports  ExportsConfig     `yaml:"exports"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.Ingest, &c.Profiles, &c.Store, &c.Watch, &c.Exports} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// IngestConfig controls how a package directory is scanned.
type IngestConfig struct {
	HiddenPrefix       string   `yaml:"hidden_prefix"`
	IgnorePatterns     []string `yaml:"ignore_patterns"`
	IgnoreFile         string   `yaml:"ignore_file"`
	ChecksumAlgorithms []string `yaml:"checksum_algorithms"`
	Workers            int      `yaml:"workers"`
}

var knownAlgorithm = validation.By(func(v any) error {
	s, _ := v.(string)
	if !checksum.Valid(checksum.Algorithm(s)) {
		return errors.New("unsupported checksum algorithm")
	}
	return nil
})

// Validate validates the ingest configuration.
func (c *IngestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChecksumAlgorithms, validation.Required, validation.Each(knownAlgorithm)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// Options converts the configuration into builder options.
func (c *IngestConfig) Options() ingest.Options {
	algs := make([]checksum.Algorithm, 0, len(c.ChecksumAlgorithms))
	for _, a := range c.ChecksumAlgorithms {
		algs = append(algs, checksum.Algorithm(a))
	}
	return ingest.Options{
		HiddenPrefix:   c.HiddenPrefix,
		IgnorePatterns: c.IgnorePatterns,
		IgnoreFile:     c.IgnoreFile,
		Algorithms:     algs,
		Workers:        c.Workers,
	}
}

// ProfilesConfig lists profile files loaded next to the built-in ones and
// the profile new packages are typed against.
type ProfilesConfig struct {
	Paths   []string `yaml:"paths"`
	Default string   `yaml:"default"`
}

// Validate validates the profiles configuration.
func (c *ProfilesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Default, validation.Required),
	)
}

// StoreConfig selects where package state is kept between runs.
//
// With the "memory" backend nothing survives a restart. With "sqlite" the
// state is restored from SQLitePath on start and written back on shutdown.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(StoreBackendMemory, StoreBackendSQLite)),
		validation.Field(&c.SQLitePath, validation.When(c.Backend == StoreBackendSQLite, validation.Required)),
	)
}

// Persistent reports whether state is kept in SQLite.
func (c *StoreConfig) Persistent() bool {
	return c.Backend == StoreBackendSQLite
}

// WatchConfig controls refreshing the package when its directory changes.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.When(c.Enabled, validation.Required, validation.Min(10*time.Millisecond))),
	)
}

// ExportsConfig holds the directory N-Triples exports are written to.
type ExportsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the exports configuration.
func (c *ExportsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	opts := ingest.DefaultOptions()
	algs := make([]string, 0, len(opts.Algorithms))
	for _, a := range opts.Algorithms {
		algs = append(algs, string(a))
	}
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Ingest: IngestConfig{
			HiddenPrefix:       opts.HiddenPrefix,
			IgnoreFile:         opts.IgnoreFile,
			ChecksumAlgorithms: algs,
			Workers:            opts.Workers,
		},
		Profiles: ProfilesConfig{
			Default: profile.FarmProfileID,
		},
		Store: StoreConfig{
			Backend:    StoreBackendMemory,
			SQLitePath: "./ipm-state.db",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 300 * time.Millisecond,
		},
		Exports: ExportsConfig{
			Path: "./exports",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
