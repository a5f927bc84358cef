package nbm

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is the explicit, per-invocation configuration threaded through the
// manifest loader, task planner, scheduler, and sandbox-info cache. It is
// never read from process-wide state beyond the one-time env var defaults
// below: every subsystem takes it as a constructor argument.
type Config struct {
	// PrefixPath is the root under which packages are installed for
	// interactive use (symlink farms, wrapper scripts, etc).
	PrefixPath string
	// StorePath is the content-addressed store root: StorePath/{b,s,i}/<id>.
	StorePath string
	// LocalStorePath is used instead of StorePath for Transient packages.
	LocalStorePath string
	// SandboxPath is the root directory of the project sandbox (manifest +
	// installation layout).
	SandboxPath string
	// EsyVersion identifies the tool version; it contributes to the
	// sandbox-info cache key so that upgrading the tool invalidates stale
	// caches written by an older version.
	EsyVersion string
	// StorePadding is a path-length pad appended to store paths so that
	// relocating the store (e.g. between a build host and a target image)
	// never changes the absolute path length, which would break binaries
	// that embed absolute rpaths.
	StorePadding int
	// StoreVersion is folded into every BuildTask id; bumping it forces a
	// full rebuild without needing to touch every manifest.
	StoreVersion int
}

const (
	envPrefix  = "ESY__PREFIX"
	envSandbox = "ESY__SANDBOX"
	envLogLvl  = "ESY__LOG"
)

// LoadConfig builds a Config from the ESY__PREFIX/ESY__SANDBOX environment
// variables. Callers that need a different prefix/sandbox (e.g. tests)
// should construct a Config directly instead of mutating the environment.
func LoadConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolving user home directory")
	}

	prefix := os.Getenv(envPrefix)
	if prefix == "" {
		prefix = filepath.Join(home, ".nbm")
	}
	sandbox := os.Getenv(envSandbox)
	if sandbox == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "resolving default sandbox path (cwd)")
		}
		sandbox = wd
	}

	return &Config{
		PrefixPath:     prefix,
		StorePath:      filepath.Join(prefix, "store"),
		LocalStorePath: filepath.Join(sandbox, "_build", "store"),
		SandboxPath:    sandbox,
		EsyVersion:     "0.1",
		StorePadding:   0,
		StoreVersion:   1,
	}, nil
}

// ConfigureLogging applies ESY__LOG (trace|debug|info|warn|error) to the
// given logger, defaulting to info when unset or unparseable.
func ConfigureLogging(log *logrus.Logger) {
	lvl, err := logrus.ParseLevel(os.Getenv(envLogLvl))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

// StoreDirFor returns the build/stage/install directory for a task id under
// the appropriate store root (local store for transient sources).
func (c *Config) StoreDirFor(transient bool, kind, id string) string {
	root := c.StorePath
	if transient {
		root = c.LocalStorePath
	}
	return filepath.Join(root, kind, c.pad(id))
}

// LockPathFor returns the advisory lock file path for a build task id.
func (c *Config) LockPathFor(id string) string {
	return filepath.Join(c.StorePath, "b", c.pad(id)+".lock")
}

func (c *Config) pad(id string) string {
	if c.StorePadding <= 0 || len(id) >= c.StorePadding {
		return id
	}
	return id + "_" + padString(c.StorePadding-len(id)-1)
}

func padString(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = '_'
	}
	return string(b)
}

// IdentityKey returns the string whose digest is the sandbox-info cache
// filename component: "storePath$$localStorePath$$sandboxPath$$esyVersion".
func (c *Config) IdentityKey() string {
	return c.StorePath + "$$" + c.LocalStorePath + "$$" + c.SandboxPath + "$$" + c.EsyVersion
}
