package internal

import (
	"io"

	"github.com/spf13/afero"

	"github.com/starford/convsync/internal/remote"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	fs        afero.Fs
	workDir   string
	logOutput io.Writer
	version   string
	api       remote.API
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithFs sets the filesystem the project tree lives on.
func WithFs(fsys afero.Fs) Option {
	return func(a *application) {
		a.fs = fsys
	}
}

// WithWorkDir sets the directory project discovery starts from.
func WithWorkDir(dir string) Option {
	return func(a *application) {
		a.workDir = dir
	}
}

// WithLogOutput redirects diagnostics, which go to stderr by default.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithRemote replaces the HTTP client built from the remote config.
func WithRemote(api remote.API) Option {
	return func(a *application) {
		a.api = api
	}
}
