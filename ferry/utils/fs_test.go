package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandPath_Tilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("Failed to get home directory: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "tilde with path",
			input:    "~/.ssh/id_ed25519",
			expected: filepath.Join(home, ".ssh/id_ed25519"),
		},
		{
			name:     "tilde alone",
			input:    "~",
			expected: home,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExpandPath(tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExpandPath_Relative(t *testing.T) {
	result, err := ExpandPath("keys/deploy.pem")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !filepath.IsAbs(result) || !strings.HasSuffix(result, "keys/deploy.pem") {
		t.Errorf("Expected absolute path ending in keys/deploy.pem, got %q", result)
	}
}

func TestExpandPath_Empty(t *testing.T) {
	result, err := ExpandPath("")
	if err != nil || result != "" {
		t.Errorf("Expected empty result, got %q (%v)", result, err)
	}
}

func TestFileMatchers(t *testing.T) {
	if !IsConfigFile("deploy/plans.ferry.yaml") || !IsConfigFile("hosts.ferry.yml") {
		t.Error("expected .ferry.yaml/.ferry.yml to match")
	}
	if IsConfigFile("plans.yaml") {
		t.Error("plain yaml should not match")
	}
	if !IsDeclarationFile("stack.ferry.hcl") || IsDeclarationFile("main.tf") {
		t.Error("declaration matcher mismatch")
	}
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.ferry.yaml", "a.ferry.yaml", "notes.txt", ".git/x.ferry.yaml", "sub/c.ferry.yml"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := FindFiles(dir, IsConfigFile)
	if err != nil {
		t.Fatalf("FindFiles() error = %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.ferry.yaml"),
		filepath.Join(dir, "b.ferry.yaml"),
		filepath.Join(dir, "sub/c.ferry.yml"),
	}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("FindFiles() = %v, want %v", files, want)
	}
}
