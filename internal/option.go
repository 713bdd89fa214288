package internal

import "log/slog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	root    string
	version string
	logger  *slog.Logger
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithPackage sets the package directory to serve.
func WithPackage(root string) Option {
	return func(a *application) {
		a.root = root
	}
}

// WithVersion sets the version reported by the servers.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithLogger replaces the JSON logger installed by Run.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}
