package config

import (
	"fmt"
	"os"
	"strings"
)

// EnvFile is an in-memory view of a plain KEY=VALUE environment file.
// No interpolation is performed; comments and blank lines are preserved
// on rewrite.
type EnvFile struct {
	path  string
	lines []string
	index map[string]int // key -> line number
}

// LoadEnvFile reads an env file. A missing file yields an empty EnvFile
// bound to the path.
func LoadEnvFile(path string) (*EnvFile, error) {
	ef := &EnvFile{path: path, index: make(map[string]int)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ef, nil
		}
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	ef.lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(ef.lines) == 1 && ef.lines[0] == "" {
		ef.lines = nil
	}
	for i, line := range ef.lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		ef.index[strings.TrimSpace(key)] = i
	}
	return ef, nil
}

// Get returns the value for key, or "" if absent.
func (ef *EnvFile) Get(key string) string {
	i, ok := ef.index[key]
	if !ok {
		return ""
	}
	_, val, _ := strings.Cut(strings.TrimSpace(ef.lines[i]), "=")
	return strings.TrimSpace(val)
}

// Has reports whether key is present with a non-empty value.
func (ef *EnvFile) Has(key string) bool {
	return ef.Get(key) != ""
}

// Set sets key to value in memory, appending if absent.
func (ef *EnvFile) Set(key, value string) {
	line := key + "=" + value
	if i, ok := ef.index[key]; ok {
		ef.lines[i] = line
		return
	}
	ef.lines = append(ef.lines, line)
	ef.index[key] = len(ef.lines) - 1
}

// Save writes the file back to disk with 0600 permissions.
func (ef *EnvFile) Save() error {
	var sb strings.Builder
	for _, line := range ef.lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return os.WriteFile(ef.path, []byte(sb.String()), 0600)
}

// Path returns the backing file path.
func (ef *EnvFile) Path() string { return ef.path }
