package msgcat

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderEmbedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("result.checkmate", map[string]string{"Winner": "White"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "White wins by checkmate" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestRenderMissingField(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("result.resigned", map[string]string{"Winner": "black"}); err == nil {
		t.Fatalf("expected error for missing Loser field")
	}
}

func TestRenderUnknownKey(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("nope.nothing", nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if got := c.Text("nope.nothing", nil, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("result:\n  draw: \"agreed draw\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("result.draw", nil, ""); got != "agreed draw" {
		t.Fatalf("override not applied, got %q", got)
	}
	if !c.Has("result.stalemate") {
		t.Fatalf("embedded keys should survive overrides")
	}
}

func TestOverrideDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("result:\n  draw: x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	_, err := New(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate override key") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestNilCatalogText(t *testing.T) {
	var c *Catalog
	if got := c.Text("result.draw", nil, "draw"); got != "draw" {
		t.Fatalf("nil catalog should return fallback, got %q", got)
	}
}

func TestOverrideRejectsNonString(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("result:\n  draw:\n    - x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := New(dir)
	if err == nil || !strings.Contains(err.Error(), "result.draw must be a string") {
		t.Fatalf("expected type error, got %v", err)
	}
}

func TestOverrideBadTemplateFailsLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("result:\n  draw: \"{{.Winner\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected a parse error at load time")
	}
}

func TestMissingOverrideDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
