// Package credential resolves the bearer credential used against the
// document store from an ordered chain of sources.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Source yields a credential or "" when it has none.
type Source func() string

// Resolve returns the first non-empty value in sources order.
func Resolve(sources ...Source) (string, bool) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if v := strings.TrimSpace(src()); v != "" {
			return v, true
		}
	}
	return "", false
}

// Static is an explicit override such as a command-line flag.
func Static(v string) Source {
	return func() string { return v }
}

// File reads a previously persisted credential. A missing or unreadable
// file yields nothing.
func File(path string) Source {
	return func() string {
		if path == "" {
			return ""
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Env reads the named environment variable.
func Env(name string) Source {
	return func() string { return os.Getenv(name) }
}

// Persist saves token to path with owner-only permissions. An empty token
// removes the file.
func Persist(path, token string) error {
	if path == "" {
		return errors.New("credential path is empty")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove credential: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

// DefaultPath is where the CLI persists an explicit token.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "umbrellashare", "token")
}
