package nbmerr

import (
	"strings"
	"testing"
)

func TestWithContextStacksOutermostFirst(t *testing.T) {
	err := New(KindManifestParse, "unexpected token").
		WithContext("reading package metadata from /pkgs/foo").
		WithContext("planning package foo")

	got := err.Error()
	wantOrder := []string{"planning package foo", "reading package metadata"}
	lastIdx := -1
	for _, want := range wantOrder {
		idx := strings.Index(got, want)
		if idx == -1 {
			t.Fatalf("Error() = %q, missing frame %q", got, want)
		}
		if idx < lastIdx {
			t.Fatalf("Error() = %q, frames out of order", got)
		}
		lastIdx = idx
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindLockContention, "could not lock %s", "abc123")
	if !Is(err, KindLockContention) {
		t.Fatalf("Is(err, KindLockContention) = false, want true")
	}
	if Is(err, KindCacheIOError) {
		t.Fatalf("Is(err, KindCacheIOError) = true, want false")
	}
}

func TestKindFatal(t *testing.T) {
	if KindCacheIOError.Fatal() {
		t.Fatalf("CacheIOError.Fatal() = true, want false (locally recoverable)")
	}
	if !KindBuildFailed.Fatal() {
		t.Fatalf("BuildFailed.Fatal() = false, want true")
	}
}
