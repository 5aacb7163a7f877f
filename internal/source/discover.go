package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// BaseName returns the source name for a file path: its base name, the
// same name Reader.Name reports after a successful Open.
func BaseName(path string) string {
	return filepath.Base(path)
}

// Discover lists the regular files in dir matching pattern, minus any whose
// base name appears in exclude, sorted by name. A missing or unreadable
// directory is an error; an empty match is not.
func Discover(dir, pattern string, exclude []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: data directory %s: %v", ErrUnreadable, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnreadable, dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	var files []string
	for _, match := range matches {
		stat, err := os.Stat(match)
		if err != nil || !stat.Mode().IsRegular() {
			continue
		}
		if excluded[filepath.Base(match)] {
			continue
		}
		files = append(files, match)
	}
	sort.Strings(files)
	return files, nil
}
