package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".txt"), []byte(body), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}
}

func TestRender_SubstitutesTokens(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "router", "You are <<AGENT_NAME>>. User said: <<USER_TEXT>>")
	r := NewRenderer(dir)

	out, err := r.Render("router", map[string]string{
		"AGENT_NAME": "Thalamus",
		"USER_TEXT":  "hello",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "You are Thalamus. User said: hello"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestRender_UnresolvedTokenFails(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "router", "Hello <<MISSING_TOKEN>>")
	r := NewRenderer(dir)

	_, err := r.Render("router", map[string]string{})
	var unresolved *UnresolvedTokensError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedTokensError, got %v", err)
	}
	if len(unresolved.Tokens) != 1 || unresolved.Tokens[0] != "<<MISSING_TOKEN>>" {
		t.Fatalf("unexpected tokens: %v", unresolved.Tokens)
	}
}

func TestRender_MissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir)
	if _, err := r.Render("does_not_exist", nil); err == nil {
		t.Fatal("expected error for missing template file")
	}
}

func TestRender_NoCacheByDefaultPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "router", "v1")
	r := NewRenderer(dir)

	out1, err := r.Render("router", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out1 != "v1" {
		t.Fatalf("got %q", out1)
	}

	writeTemplate(t, dir, "router", "v2")
	out2, err := r.Render("router", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out2 != "v2" {
		t.Fatalf("expected hot-reloaded v2, got %q", out2)
	}
}

func TestRender_CacheEnabledServesStaleUntilInvalidated(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "router", "v1")
	r := NewRenderer(dir)
	r.SetCacheEnabled(true)

	if _, err := r.Render("router", nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	writeTemplate(t, dir, "router", "v2")

	stale, err := r.Render("router", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if stale != "v1" {
		t.Fatalf("expected cached v1, got %q", stale)
	}

	r.Invalidate("router")
	fresh, err := r.Render("router", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if fresh != "v2" {
		t.Fatalf("expected v2 after invalidate, got %q", fresh)
	}
}
