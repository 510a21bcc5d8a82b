package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnvFile_LoadMissing(t *testing.T) {
	ef, err := LoadEnvFile(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	if ef.Has("WIZARD_KEY") {
		t.Error("empty env file should not have WIZARD_KEY")
	}
}

func TestEnvFile_GetSetSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# wizard secrets\nWIZARD_KEY=abc123\n\nOTHER=keepme\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	ef, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	if got := ef.Get("WIZARD_KEY"); got != "abc123" {
		t.Errorf("expected WIZARD_KEY=abc123, got %q", got)
	}
	if got := ef.Get("MISSING"); got != "" {
		t.Errorf("expected empty for missing key, got %q", got)
	}

	ef.Set("WIZARD_KEY", "def456")
	ef.Set("WIZARD_ADMIN_TOKEN", "tok")
	if err := ef.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "# wizard secrets") {
		t.Error("comment line was not preserved")
	}
	if !strings.Contains(text, "WIZARD_KEY=def456") {
		t.Error("updated key not written")
	}
	if !strings.Contains(text, "OTHER=keepme") {
		t.Error("unrelated key not preserved")
	}
	if !strings.Contains(text, "WIZARD_ADMIN_TOKEN=tok") {
		t.Error("appended key not written")
	}

	// No interpolation: values are taken literally.
	ef.Set("REF", "$WIZARD_KEY")
	if got := ef.Get("REF"); got != "$WIZARD_KEY" {
		t.Errorf("expected literal value, got %q", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 perms, got %v", info.Mode().Perm())
	}
}
