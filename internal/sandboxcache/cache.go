// Package sandboxcache is the on-disk fast path over planning: a
// versioned, compressed snapshot of a planned sandbox's root task id and
// composed environments, keyed by configuration identity and invalidated
// by the modification times of the manifests that contributed.
package sandboxcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	nbm "github.com/nbmpm/nbm"
	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	magic         = "ESYSB"
	schemaVersion = uint32(1)
)

// ManifestWitness records the mtime a contributing manifest had when the
// cache entry was planned.
type ManifestWitness struct {
	Path  string
	MTime time.Time
}

// SandboxInfo is the cached projection of a planned sandbox. The full
// BuildTask graph is not round-tripped byte-for-byte; this stores the root
// task's id and its two rendered environments, which is everything a
// fast-path cache hit actually needs: enough to skip replanning while
// still fully describing what would be executed.
type SandboxInfo struct {
	SandboxPath string
	RootPkgName string
	RootTaskID  string

	CommandEnvOrder []string
	CommandEnv      map[string]string
	SandboxEnvOrder []string
	SandboxEnv      map[string]string

	ManifestInfo []ManifestWitness
}

// cachePath returns sandboxPath/node_modules/.cache/_esy/sandbox-<H> where H
// is a hex digest of Config.IdentityKey().
func cachePath(cfg *nbm.Config) string {
	sum := sha256.Sum256([]byte(cfg.IdentityKey()))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(cfg.SandboxPath, "node_modules", ".cache", "_esy", "sandbox-"+h)
}

// Write serializes info as a magic-prefixed, versioned, zstd-compressed gob
// blob and writes it atomically. I/O errors are logged but non-fatal: a
// cache that failed to write costs a replan, nothing more.
func Write(cfg *nbm.Config, info *SandboxInfo, log *logrus.Logger) {
	path := cachePath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn(errors.Wrap(err, "sandboxcache: creating cache directory "+filepath.Dir(path)).Error())
		return
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(info); err != nil {
		log.WithError(err).Warn("sandboxcache: encoding sandbox info failed")
		return
	}

	var blob bytes.Buffer
	blob.WriteString(magic)
	binary.Write(&blob, binary.BigEndian, schemaVersion)

	enc, err := zstd.NewWriter(&blob)
	if err != nil {
		log.WithError(err).Warn("sandboxcache: constructing zstd writer failed")
		return
	}
	if _, err := enc.Write(payload.Bytes()); err != nil {
		log.WithError(err).Warn("sandboxcache: compressing sandbox info failed")
		return
	}
	if err := enc.Close(); err != nil {
		log.WithError(err).Warn("sandboxcache: finalizing compressed sandbox info failed")
		return
	}

	if err := renameio.WriteFile(path, blob.Bytes(), 0o644); err != nil {
		log.Warn(errors.Wrap(err, "sandboxcache: writing cache file "+path).Error())
	}
}

// Read loads the cache for cfg and validates it against the current
// mtimes of every witness path in manifestInfo. It returns (nil, nil) on any
// I/O error or staleness; cache misses are never fatal.
func Read(cfg *nbm.Config) (*SandboxInfo, error) {
	path := cachePath(cfg)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	if len(data) < len(magic)+4 || string(data[:len(magic)]) != magic {
		return nil, nil
	}
	version := binary.BigEndian.Uint32(data[len(magic) : len(magic)+4])
	if version != schemaVersion {
		return nil, nil
	}

	dec, err := zstd.NewReader(bytes.NewReader(data[len(magic)+4:]))
	if err != nil {
		return nil, nil
	}
	defer dec.Close()

	payload, err := io.ReadAll(dec)
	if err != nil {
		return nil, nil
	}

	var info SandboxInfo
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&info); err != nil {
		return nil, nil
	}

	for _, w := range info.ManifestInfo {
		st, err := os.Stat(w.Path)
		if err != nil {
			return nil, nil
		}
		if st.ModTime().After(w.MTime) {
			return nil, nil
		}
	}

	return &info, nil
}
