// Package filex holds filesystem helpers.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureParentDir creates the directory that will hold path and returns it.
// Paths in the working directory need nothing and return ".".
func EnsureParentDir(path string) (string, error) {
	dir := filepath.Dir(path)
	if dir == "." {
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}

// SQLiteFile returns the database file named by a sqlite DSN such as
// "file:data/users.db?_pragma=busy_timeout(5000)". In-memory databases
// yield "".
func SQLiteFile(dsn string) string {
	path, query, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" {
		return ""
	}
	for _, kv := range strings.Split(query, "&") {
		if kv == "mode=memory" {
			return ""
		}
	}
	return path
}
