package sandboxcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	nbm "github.com/nbmpm/nbm"
	"github.com/sirupsen/logrus"
)

func testConfig(t *testing.T) *nbm.Config {
	t.Helper()
	dir := t.TempDir()
	return &nbm.Config{
		StorePath:      dir + "/store",
		LocalStorePath: dir + "/local-store",
		SandboxPath:    dir,
		EsyVersion:     "test",
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	cfg := testConfig(t)
	manifestPath := filepath.Join(cfg.SandboxPath, "esy.json")
	if err := os.WriteFile(manifestPath, []byte("{}"), 0o644); err != nil {
		t.Fatalf("writing fixture manifest: %v", err)
	}
	st, err := os.Stat(manifestPath)
	if err != nil {
		t.Fatalf("stat fixture manifest: %v", err)
	}

	info := &SandboxInfo{
		SandboxPath: cfg.SandboxPath,
		RootPkgName: "root",
		RootTaskID:  "abc123",
		CommandEnv:  map[string]string{"A": "1"},
		ManifestInfo: []ManifestWitness{
			{Path: manifestPath, MTime: st.ModTime()},
		},
	}

	Write(cfg, info, quietLogger())

	got, err := Read(cfg)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got == nil {
		t.Fatal("Read returned nil, want a cache hit")
	}
	if got.RootTaskID != "abc123" {
		t.Fatalf("RootTaskID = %q, want abc123", got.RootTaskID)
	}
}

func TestReadMissesWhenWitnessManifestTouched(t *testing.T) {
	cfg := testConfig(t)
	manifestPath := filepath.Join(cfg.SandboxPath, "esy.json")
	if err := os.WriteFile(manifestPath, []byte("{}"), 0o644); err != nil {
		t.Fatalf("writing fixture manifest: %v", err)
	}
	st, err := os.Stat(manifestPath)
	if err != nil {
		t.Fatalf("stat fixture manifest: %v", err)
	}

	info := &SandboxInfo{
		RootTaskID: "abc123",
		ManifestInfo: []ManifestWitness{
			{Path: manifestPath, MTime: st.ModTime()},
		},
	}
	Write(cfg, info, quietLogger())

	future := st.ModTime().Add(time.Hour)
	if err := os.Chtimes(manifestPath, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	got, err := Read(cfg)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != nil {
		t.Fatal("Read returned a hit after the witness manifest's mtime advanced, want a miss")
	}
}

func TestReadMissesOnAbsentCacheFile(t *testing.T) {
	cfg := testConfig(t)
	got, err := Read(cfg)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != nil {
		t.Fatal("Read on a fresh sandbox should miss")
	}
}
