package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}
	return path
}

func TestCachedReturnsStoredValue(t *testing.T) {
	dir := t.TempDir()
	src := writeArtifact(t, dir, "model.go", "type User struct{}")

	s := NewStore()
	builds := 0
	produce := func() (any, error) {
		builds++
		return builds, nil
	}

	v, err := s.Cached("schema:User", []string{src}, produce)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("expected first build, got %v", v)
	}

	v, err = s.Cached("schema:User", []string{src}, produce)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 || builds != 1 {
		t.Errorf("expected cached value, got %v after %d builds", v, builds)
	}
}

func TestCachedRebuildsOnArtifactChange(t *testing.T) {
	dir := t.TempDir()
	src := writeArtifact(t, dir, "model.go", "type User struct{}")

	s := NewStore()
	builds := 0
	produce := func() (any, error) {
		builds++
		return builds, nil
	}

	if _, err := s.Cached("schema:User", []string{src}, produce); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeArtifact(t, dir, "model.go", "type User struct{ Name string }")

	v, err := s.Cached("schema:User", []string{src}, produce)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 || builds != 2 {
		t.Errorf("expected a rebuild after the artifact changed, got %v after %d builds", v, builds)
	}
}

func TestCachedRebuildsWhenArtifactAppears(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "generated.go")

	s := NewStore()
	builds := 0
	produce := func() (any, error) {
		builds++
		return builds, nil
	}

	if _, err := s.Cached("k", []string{missing}, produce); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Cached("k", []string{missing}, produce); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builds != 1 {
		t.Fatalf("missing artifacts are stable while absent, got %d builds", builds)
	}

	writeArtifact(t, dir, "generated.go", "package gen")

	if _, err := s.Cached("k", []string{missing}, produce); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builds != 2 {
		t.Errorf("creation of a watched artifact counts as a change, got %d builds", builds)
	}
}

func TestCachedProduceError(t *testing.T) {
	s := NewStore()
	boom := errors.New("boom")

	_, err := s.Cached("k", nil, func() (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected produce error, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("failed productions are not cached")
	}
}

func TestInvalidate(t *testing.T) {
	s := NewStore()
	builds := 0
	produce := func() (any, error) {
		builds++
		return builds, nil
	}

	if _, err := s.Cached("k", nil, produce); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Invalidate("k")
	if _, err := s.Cached("k", nil, produce); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builds != 2 {
		t.Errorf("invalidation forces a rebuild, got %d builds", builds)
	}
}

func TestHashContentStable(t *testing.T) {
	h := NewFileHasher()
	a := h.HashContent([]byte("abc"))
	b := h.HashContent([]byte("abc"))
	if a != b {
		t.Error("hashing is deterministic")
	}
	if a == h.HashContent([]byte("abd")) {
		t.Error("different content must hash differently")
	}
}
