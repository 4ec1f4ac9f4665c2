package utils

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsConfigFile reports whether path is a plan/inventory file.
func IsConfigFile(path string) bool {
	return strings.HasSuffix(path, ".ferry.yml") || strings.HasSuffix(path, ".ferry.yaml")
}

// IsDeclarationFile reports whether path is a provisioning declaration.
func IsDeclarationFile(path string) bool {
	return strings.HasSuffix(path, ".ferry.hcl")
}

// FindFiles walks dir and returns the files accepted by match, sorted so
// that merge order does not depend on the filesystem.
func FindFiles(dir string, match func(string) bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if match(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ExpandPath expands a leading ~ and makes the path absolute.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if path == "~" {
		return os.UserHomeDir()
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, rest)
	}

	return filepath.Abs(path)
}
